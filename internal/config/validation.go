// internal/config/validation.go - Configuration validation
package config

import (
	"fmt"
)

// Validate validates the configuration structure and values
func Validate(config *Config) error {
	if len(config.Datasources) == 0 {
		return fmt.Errorf("at least one [[datasource]] is required")
	}
	for i := range config.Datasources {
		if err := validateDatasource(&config.Datasources[i]); err != nil {
			return fmt.Errorf("datasource %d invalid: %w", i, err)
		}
	}

	if err := validateGrid(&config.Grid); err != nil {
		return fmt.Errorf("grid configuration invalid: %w", err)
	}

	if len(config.Tilesets) == 0 {
		return fmt.Errorf("at least one [[tileset]] is required")
	}
	for i := range config.Tilesets {
		if err := validateTileset(&config.Tilesets[i]); err != nil {
			return fmt.Errorf("tileset %q invalid: %w", config.Tilesets[i].Name, err)
		}
	}

	if err := validateCache(&config.Cache); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}

	if err := validateWebserver(&config.Webserver); err != nil {
		return fmt.Errorf("webserver configuration invalid: %w", err)
	}

	return nil
}

// validateDatasource validates one datasource definition
func validateDatasource(config *DatasourceConfig) error {
	validTypes := []string{"postgis", "gdal"}
	if !contains(validTypes, config.Type) {
		return fmt.Errorf("invalid type: %s, must be one of %v", config.Type, validTypes)
	}

	switch config.Type {
	case "postgis":
		if config.URL == "" {
			return fmt.Errorf("url is required for postgis datasources")
		}
	case "gdal":
		if config.Path == "" && config.URL == "" {
			return fmt.Errorf("path is required for gdal datasources")
		}
	}

	if config.PoolSize < 0 {
		return fmt.Errorf("pool_size must be non-negative")
	}

	if config.ConnectionTimeout < 0 {
		return fmt.Errorf("connection_timeout must be non-negative")
	}

	return nil
}

// validateGrid validates the grid selection
func validateGrid(config *GridConfig) error {
	if config.User != nil {
		u := config.User
		if len(u.Extent) != 4 {
			return fmt.Errorf("user grid extent must have 4 values")
		}
		if u.Extent[0] > u.Extent[2] || u.Extent[1] > u.Extent[3] {
			return fmt.Errorf("user grid extent is inverted")
		}
		if len(u.Resolutions) == 0 {
			return fmt.Errorf("user grid requires resolutions")
		}
		for i := 1; i < len(u.Resolutions); i++ {
			if u.Resolutions[i] >= u.Resolutions[i-1] {
				return fmt.Errorf("user grid resolutions must be strictly decreasing")
			}
		}
		if u.SRID == 0 {
			return fmt.Errorf("user grid requires srid")
		}
		validUnits := []string{"m", "dd", "ft"}
		if !contains(validUnits, u.Units) {
			return fmt.Errorf("invalid units: %s, must be one of %v", u.Units, validUnits)
		}
		validOrigins := []string{"TopLeft", "BottomLeft", ""}
		if !contains(validOrigins, u.Origin) {
			return fmt.Errorf("invalid origin: %s, must be one of %v", u.Origin, validOrigins[:2])
		}
		return nil
	}

	validGrids := []string{"web_mercator", "wgs84"}
	if !contains(validGrids, config.Predefined) {
		return fmt.Errorf("invalid predefined grid: %s, must be one of %v", config.Predefined, validGrids)
	}
	return nil
}

// validateTileset validates one tileset with its layers
func validateTileset(config *TilesetConfig) error {
	if config.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(config.Extent) != 0 && len(config.Extent) != 4 {
		return fmt.Errorf("extent must have 4 values")
	}
	if len(config.Center) != 0 && len(config.Center) != 2 {
		return fmt.Errorf("center must have 2 values")
	}
	if len(config.Layers) == 0 {
		return fmt.Errorf("at least one [[tileset.layer]] is required")
	}
	for i := range config.Layers {
		if err := validateLayer(&config.Layers[i]); err != nil {
			return fmt.Errorf("layer %q invalid: %w", config.Layers[i].Name, err)
		}
	}
	return nil
}

// validateLayer validates one layer definition
func validateLayer(config *LayerConfig) error {
	if config.Name == "" {
		return fmt.Errorf("name is required")
	}
	if config.GeometryField == "" {
		return fmt.Errorf("geometry_field is required")
	}
	if config.TableName == "" && len(config.Queries) == 0 {
		return fmt.Errorf("either table_name or query is required")
	}
	for i, q := range config.Queries {
		if q.MinZoom != nil && q.MaxZoom != nil && *q.MinZoom > *q.MaxZoom {
			return fmt.Errorf("query %d: minzoom greater than maxzoom", i)
		}
	}
	if config.MinZoom != nil && config.MaxZoom != nil && *config.MinZoom > *config.MaxZoom {
		return fmt.Errorf("minzoom greater than maxzoom")
	}
	return nil
}

// validateCache validates the cache selection
func validateCache(config *CacheConfig) error {
	if config.File != nil && config.S3 != nil {
		return fmt.Errorf("only one cache backend may be configured")
	}
	if config.File != nil && config.File.Base == "" {
		return fmt.Errorf("cache.file.base is required")
	}
	if config.S3 != nil {
		if config.S3.Bucket == "" {
			return fmt.Errorf("cache.s3.bucket is required")
		}
		if config.S3.Endpoint == "" {
			return fmt.Errorf("cache.s3.endpoint is required")
		}
	}
	return nil
}

// validateWebserver validates webserver configuration parameters
func validateWebserver(config *WebserverConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if config.Threads < 0 {
		return fmt.Errorf("threads must be non-negative")
	}
	validLevels := []string{"debug", "info", "warn", "error", ""}
	if !contains(validLevels, config.LogLevel) {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}
	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}
