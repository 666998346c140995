package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3BlobStore implements the BlobStore interface using AWS S3.
type S3BlobStore struct {
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
}

// NewS3BlobStore creates a new S3 blob store.
func NewS3BlobStore(region, bucketName string) (*S3BlobStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	return &S3BlobStore{
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucketName,
	}, nil
}

// Put uploads a blob to S3. The content type travels with the upload request,
// so data and metadata land together.
func (s *S3BlobStore) Put(ctx context.Context, name string, data io.Reader, size int64, contentType string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(name),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob: %v", err)
	}

	return nil
}

// Get retrieves a blob from S3 as a stream plus its metadata.
func (s *S3BlobStore) Get(ctx context.Context, name string) (io.ReadCloser, *BlobInfo, error) {
	// Head first to get size and content type
	headOutput, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(name),
	})
	if err != nil {
		if isBlobNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get blob metadata: %v", err)
	}

	output, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(name),
	})
	if err != nil {
		if isBlobNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get blob: %v", err)
	}

	info := &BlobInfo{
		ContentType: aws.StringValue(headOutput.ContentType),
		Length:      aws.Int64Value(headOutput.ContentLength),
	}

	return output.Body, info, nil
}

// Delete removes a blob from S3 and reports whether an object was removed.
func (s *S3BlobStore) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := s.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	_, err = s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(name),
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete blob: %v", err)
	}

	return true, nil
}

// Exists checks whether a blob is present without transferring its content.
func (s *S3BlobStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(name),
	})
	if err != nil {
		if isBlobNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob: %v", err)
	}

	return true, nil
}

// isBlobNotFound reports whether an S3 error means the key is absent.
// HeadObject surfaces a bare "NotFound" code rather than NoSuchKey.
func isBlobNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
