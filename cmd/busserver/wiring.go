package main

import (
	"github.com/petrsynek/bus-server/internal/config/dto"
	"github.com/petrsynek/bus-server/internal/kafka"
	"github.com/petrsynek/bus-server/internal/reference"
	"github.com/petrsynek/bus-server/internal/storage"
)

func storageConfig(cfg *dto.ApplicationConfig) storage.Config {
	s := cfg.Storage
	return storage.Config{
		Backend: s.Backend,
		File: storage.FileConfig{
			BasePath: s.File.BasePath,
		},
		S3: storage.S3Config{
			Bucket:       s.S3.Bucket,
			Region:       s.S3.Region,
			BasePath:     s.S3.BasePath,
			Endpoint:     s.S3.Endpoint,
			UsePathStyle: s.S3.UsePathStyle,
			SSEEnabled:   s.S3.SSEEnabled,
			SSEKMSKeyID:  s.S3.SSEKMSKeyID,
		},
		GCS: storage.GCSConfig{
			Bucket:               s.GCS.Bucket,
			ProjectID:            s.GCS.ProjectID,
			BasePath:             s.GCS.BasePath,
			CredentialsFile:      s.GCS.CredentialsFile,
			CredentialsJSON:      s.GCS.CredentialsJSON,
			Endpoint:             s.GCS.Endpoint,
			UseDefaultCredential: s.GCS.UseDefaultCredential,
		},
		Azure: storage.AzureConfig{
			AccountName:   s.Azure.AccountName,
			AccountKey:    s.Azure.AccountKey,
			ContainerName: s.Azure.Container,
			BasePath:      s.Azure.BasePath,
			Endpoint:      s.Azure.Endpoint,
		},
	}
}

func referenceConfig(cfg *dto.ApplicationConfig) reference.Config {
	return reference.Config{
		BaseURL:           cfg.Reference.BaseURL,
		Timeout:           cfg.Reference.RequestTimeout(),
		RequestsPerSecond: cfg.Reference.RequestsPerSecond,
		Burst:             cfg.Reference.Burst,
	}
}

func kafkaConfig(cfg *dto.ApplicationConfig) kafka.Config {
	k := cfg.Kafka
	return kafka.Config{
		Enabled:          k.Enabled,
		BootstrapServers: k.BootstrapServers,
		Topic:            k.Topic,
		Source:           k.Source,
		Security: kafka.SecurityConfig{
			SecurityProtocol: k.SecurityProtocol,
			SASLMechanism:    k.SASLMechanism,
			SASLUsername:     k.SASLUsername,
			SASLPassword:     k.SASLPassword,
			AWSRegion:        k.AWSRegion,
		},
	}
}
