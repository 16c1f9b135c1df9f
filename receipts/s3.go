// Package receipts writes a JSON receipt to S3 for every completed order,
// so historical invoices outlive the in-memory archive.
package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"go-restaurant-orderhub/models"
)

// PutObjectAPI is the slice of the S3 client the sink needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

type Receipt struct {
	OrderID     string            `json:"orderId"`
	OrderNumber int               `json:"orderNumber"`
	Branch      string            `json:"branch"`
	Customer    models.Customer   `json:"customer"`
	Items       []models.LineItem `json:"items"`
	Total       string            `json:"total"`
	PlacedAt    string            `json:"placedAt"`
	CompletedAt string            `json:"completedAt"`
}

func NewS3Sink(client PutObjectAPI, bucket, prefix string) *S3Sink {
	if prefix == "" {
		prefix = "receipts"
	}
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// NewS3SinkFromEnv builds the client from the default AWS credential chain.
func NewS3SinkFromEnv(ctx context.Context, region, bucket, prefix string) (*S3Sink, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return NewS3Sink(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func (s *S3Sink) Name() string { return "s3-receipts" }

// Handle ignores every event except archiving.
func (s *S3Sink) Handle(ctx context.Context, ev models.OrderEvent) error {
	if ev.Type != models.EventOrderArchived {
		return nil
	}
	o := ev.Order
	body, err := json.Marshal(Receipt{
		OrderID:     o.ID,
		OrderNumber: o.SequenceNumber,
		Branch:      o.Branch,
		Customer:    o.Customer,
		Items:       o.LineItems,
		Total:       o.TotalPrice.StringFixed(2),
		PlacedAt:    o.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt: o.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Wrap(err, "encode receipt")
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(o)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	return errors.Wrapf(err, "put receipt for order %s", o.ID)
}

func (s *S3Sink) key(o models.Order) string {
	return fmt.Sprintf("%s/%s/%s/%s.json", s.prefix, o.Branch, o.CreatedAt.UTC().Format("2006-01-02"), o.ID)
}
