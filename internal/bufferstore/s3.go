// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

// Package bufferstore implements rpcchannel.OverflowStore against an
// S3-compatible bucket, so a client channel's Connecting-state buffer
// can spill past its in-memory capacity instead of failing callers
// synchronously.
package bufferstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
)

// s3API is the subset of *s3.Client this package calls, narrowed to an
// interface so tests can substitute a fake instead of talking to a
// real bucket.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3OverflowStore implements rpcchannel.OverflowStore by PUTting
// spilled messages under a channel/seqno-derived key and GETting them
// back on demand.
type S3OverflowStore struct {
	client s3API
	bucket string
	prefix string
	maxAge time.Duration
}

// New builds an S3OverflowStore against bucket, loading AWS credentials
// and region from the default SDK chain (environment, shared config,
// instance role). prefix is prepended to every object key, useful for
// sharing one bucket across environments. maxAge bounds how long a
// spilled entry survives before CollectGarbage deletes it (<=0 means
// 24h).
func New(ctx context.Context, bucket, prefix string, maxAge time.Duration) (*S3OverflowStore, error) {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bufferstore: loading AWS config: %w", err)
	}
	return &S3OverflowStore{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		maxAge: maxAge,
	}, nil
}

func (s *S3OverflowStore) objectKey(channelID string, seqno rpcmsg.MessageSeqNo) string {
	return fmt.Sprintf("%soverflow/%s/%020d.bin", s.prefix, channelID, uint64(seqno))
}

// Spill implements rpcchannel.OverflowStore.
func (s *S3OverflowStore) Spill(ctx context.Context, channelID string, seqno rpcmsg.MessageSeqNo, encoded []byte) (string, error) {
	key := s.objectKey(channelID, seqno)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(encoded),
	})
	if err != nil {
		return "", fmt.Errorf("bufferstore: spilling seqno %d: %w", seqno, err)
	}
	return key, nil
}

// Fetch implements rpcchannel.OverflowStore.
func (s *S3OverflowStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("bufferstore: fetching %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("bufferstore: reading %s: %w", key, err)
	}
	return data, nil
}

// Delete removes a spilled object once it has been fetched and
// resent, or once a housekeeper job decides it is stale.
func (s *S3OverflowStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("bufferstore: deleting %s: %w", key, err)
	}
	return nil
}

// ListStaleKeys lists every object under the overflow/ prefix, for a
// housekeeper job to garbage-collect entries older than a retention
// window (object age is read from the listing's LastModified field by
// the caller; this method only enumerates keys).
func (s *S3OverflowStore) ListStaleKeys(ctx context.Context) ([]s3types.Object, error) {
	var objects []s3types.Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "overflow/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("bufferstore: listing overflow objects: %w", err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

// CollectGarbage implements housekeeping.StaleOverflowLister. It walks
// every spilled object and deletes anything older than maxAge,
// returning how many it removed. A deletion failure on one key does
// not stop the walk; it is logged to the caller via the returned
// error wrapping the first failure encountered.
func (s *S3OverflowStore) CollectGarbage(ctx context.Context) (int, error) {
	objects, err := s.ListStaleKeys(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	var firstErr error
	for _, obj := range objects {
		if obj.Key == nil || obj.LastModified == nil {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := s.Delete(ctx, *obj.Key); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
