// internal/config/config.go - Configuration management
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Service     ServiceConfig      `mapstructure:"service"`
	Datasources []DatasourceConfig `mapstructure:"datasource"`
	Grid        GridConfig         `mapstructure:"grid"`
	Tilesets    []TilesetConfig    `mapstructure:"tileset"`
	Cache       CacheConfig        `mapstructure:"cache"`
	Webserver   WebserverConfig    `mapstructure:"webserver"`
}

// ServiceConfig groups the service-level options
type ServiceConfig struct {
	MVT MVTServiceConfig `mapstructure:"mvt"`
}

// MVTServiceConfig contains MVT service options
type MVTServiceConfig struct {
	Viewer bool `mapstructure:"viewer"`
}

// DatasourceConfig describes one geometry source
type DatasourceConfig struct {
	Type              string `mapstructure:"type"`
	Name              string `mapstructure:"name"`
	URL               string `mapstructure:"url"`
	Path              string `mapstructure:"path"`
	Default           bool   `mapstructure:"default"`
	PoolSize          int    `mapstructure:"pool_size"`
	ConnectionTimeout int    `mapstructure:"connection_timeout"`
}

// GridConfig selects a predefined grid or defines a user grid
type GridConfig struct {
	Predefined string          `mapstructure:"predefined"`
	User       *UserGridConfig `mapstructure:"user"`
}

// UserGridConfig carries the fields of a custom grid
type UserGridConfig struct {
	Width       uint16    `mapstructure:"width"`
	Height      uint16    `mapstructure:"height"`
	Extent      []float64 `mapstructure:"extent"`
	SRID        int       `mapstructure:"srid"`
	Units       string    `mapstructure:"units"`
	Resolutions []float64 `mapstructure:"resolutions"`
	Origin      string    `mapstructure:"origin"`
}

// TilesetConfig describes one tileset with its layers
type TilesetConfig struct {
	Name        string        `mapstructure:"name"`
	Extent      []float64     `mapstructure:"extent"`
	MinZoom     *uint8        `mapstructure:"minzoom"`
	MaxZoom     *uint8        `mapstructure:"maxzoom"`
	Center      []float64     `mapstructure:"center"`
	StartZoom   *uint8        `mapstructure:"start_zoom"`
	Attribution string        `mapstructure:"attribution"`
	Layers      []LayerConfig `mapstructure:"layer"`
}

// LayerConfig describes one layer
type LayerConfig struct {
	Name          string             `mapstructure:"name"`
	Datasource    string             `mapstructure:"datasource"`
	TableName     string             `mapstructure:"table_name"`
	GeometryField string             `mapstructure:"geometry_field"`
	GeometryType  string             `mapstructure:"geometry_type"`
	SRID          int                `mapstructure:"srid"`
	FidField      string             `mapstructure:"fid_field"`
	BufferSize    uint32             `mapstructure:"buffer_size"`
	Simplify      bool               `mapstructure:"simplify"`
	Tolerance     *float64           `mapstructure:"tolerance"`
	ToleranceMap  map[string]float64 `mapstructure:"tolerance_by_zoom"`
	MakeValid     bool               `mapstructure:"make_valid"`
	QueryLimit    uint32             `mapstructure:"query_limit"`
	MinZoom       *uint8             `mapstructure:"minzoom"`
	MaxZoom       *uint8             `mapstructure:"maxzoom"`
	TileSize      uint32             `mapstructure:"tile_size"`
	NoTransform   bool               `mapstructure:"no_transform"`
	ShiftLon      bool               `mapstructure:"shift_longitude"`
	Style         string             `mapstructure:"style"`
	Queries       []LayerQueryConfig `mapstructure:"query"`
}

// LayerQueryConfig is one query variant with its zoom bounds
type LayerQueryConfig struct {
	MinZoom *uint8 `mapstructure:"minzoom"`
	MaxZoom *uint8 `mapstructure:"maxzoom"`
	SQL     string `mapstructure:"sql"`
}

// CacheConfig selects at most one cache backend
type CacheConfig struct {
	File *FileCacheConfig `mapstructure:"file"`
	S3   *S3CacheConfig   `mapstructure:"s3"`
}

// FileCacheConfig parameterizes the filesystem cache
type FileCacheConfig struct {
	Base    string `mapstructure:"base"`
	BaseURL string `mapstructure:"baseurl"`
}

// S3CacheConfig parameterizes the object store cache
type S3CacheConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"baseurl"`
}

// WebserverConfig contains HTTP server options
type WebserverConfig struct {
	Bind            string `mapstructure:"bind"`
	Port            int    `mapstructure:"port"`
	Threads         int    `mapstructure:"threads"`
	CacheControlAge int    `mapstructure:"cache_control_max_age"`
	LogLevel        string `mapstructure:"log_level"`
}

// Load reads and validates the configuration file
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.mvt.viewer", true)
	v.SetDefault("grid.predefined", "web_mercator")
	v.SetDefault("webserver.bind", "127.0.0.1")
	v.SetDefault("webserver.port", 6767)
	v.SetDefault("webserver.threads", runtime.NumCPU())
	v.SetDefault("webserver.cache_control_max_age", 0)
	v.SetDefault("webserver.log_level", "info")
}
