package config

import "strings"

// BlobConfig contains object storage configuration.
//
// The store is S3-compatible; Endpoint may point at a non-AWS provider
// (R2, MinIO), in which case the region is typically "auto".
type BlobConfig struct {
	Endpoint  string `env:"ENDPOINT"   envDefault:""`
	Region    string `env:"REGION"     envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY" envDefault:""`
	SecretKey string `env:"SECRET_KEY" envDefault:""`

	// FoodBucket holds uploaded meal images.
	FoodBucket string `env:"FOOD_BUCKET" envDefault:"food-images"`
	// MedicalBucket holds uploaded medical documents.
	MedicalBucket string `env:"MEDICAL_BUCKET" envDefault:"medical-documents"`
}

// Sanitize normalises blob store configuration values.
func (c *BlobConfig) Sanitize() {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Region = strings.TrimSpace(c.Region)
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if strings.TrimSpace(c.FoodBucket) == "" {
		c.FoodBucket = "food-images"
	}
	if strings.TrimSpace(c.MedicalBucket) == "" {
		c.MedicalBucket = "medical-documents"
	}
}

// Buckets returns every configured bucket name, in sweep order.
func (c *BlobConfig) Buckets() []string {
	return []string{c.FoodBucket, c.MedicalBucket}
}
