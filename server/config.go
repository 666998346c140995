package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config represents the server configuration
type Config struct {
	Server struct {
		HTTPPort int `yaml:"http_port"`
		GRPCPort int `yaml:"grpc_port"`
	} `yaml:"server"`
	Records struct {
		DefaultPartition string `yaml:"default_partition"`
	} `yaml:"records"`
	AWS struct {
		Region   string `yaml:"region"`
		DynamoDB struct {
			Table string `yaml:"table"`
		} `yaml:"dynamodb"`
		S3 struct {
			BucketName string `yaml:"bucket_name"`
		} `yaml:"s3"`
		ElastiCache struct {
			Address string `yaml:"address"`
			TTL     int    `yaml:"ttl"`
		} `yaml:"elasticache"`
	} `yaml:"aws"`
	Upload struct {
		MaxBodyBytes int64 `yaml:"max_body_bytes"`
	} `yaml:"upload"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	// Parse the YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 8081
	}
	if c.Records.DefaultPartition == "" {
		c.Records.DefaultPartition = "TODO"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-west-2"
	}
	if c.AWS.DynamoDB.Table == "" {
		c.AWS.DynamoDB.Table = "todostore-records"
	}
	if c.AWS.S3.BucketName == "" {
		c.AWS.S3.BucketName = "todostore-blobs"
	}
	if c.AWS.ElastiCache.TTL == 0 {
		c.AWS.ElastiCache.TTL = 3600
	}
	if c.Upload.MaxBodyBytes == 0 {
		c.Upload.MaxBodyBytes = 32 << 20
	}
}
