// internal/cache/s3.go - Object storage tile cache
package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
)

const tileContentType = "application/x-protobuf"

// S3Cache stores tiles as objects. Keys carry no leading slash.
type S3Cache struct {
	client  *s3.S3
	bucket  string
	baseURL string
}

// S3Config parameterizes the object store connection.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	BaseURL   string
}

// NewS3Cache connects to the object store.
func NewS3Cache(cfg S3Config) (*S3Cache, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return &S3Cache{
		client:  s3.New(sess),
		bucket:  cfg.Bucket,
		baseURL: cfg.BaseURL,
	}, nil
}

func (c *S3Cache) Info() string {
	return fmt.Sprintf("Tile cache s3: bucket %s", c.bucket)
}

func (c *S3Cache) BaseURL() string {
	if c.baseURL == "" {
		return "http://localhost:6767"
	}
	return c.baseURL
}

func (c *S3Cache) Get(path string) ([]byte, bool) {
	out, err := c.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, false
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		log.Warnf("S3Cache.Get %s: %v", path, err)
		return nil, false
	}
	return data, true
}

func (c *S3Cache) Put(path string, data []byte) error {
	_, err := c.client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(tileContentType),
	})
	return err
}

func (c *S3Cache) Exists(path string) bool {
	_, err := c.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	return err == nil
}
