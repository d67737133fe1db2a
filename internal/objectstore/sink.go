// Package objectstore keeps itinerary documents in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/helanludovic-commits/middleware-journea/internal/savestate"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// envelope is the stored object body.
type envelope struct {
	Revision int64           `json:"revision"`
	Content  json.RawMessage `json:"content"`
}

// Sink implements savestate.RemoteSink on top of minio-go.
type Sink struct {
	client *minio.Client
	bucket string
	prefix string
}

func New(opts Options) (*Sink, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	prefix := strings.Trim(opts.Prefix, "/")
	if prefix == "" {
		prefix = "itineraries"
	}
	return &Sink{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Sink) objectName(docID string) string {
	return s.prefix + "/" + docID + ".json"
}

func (s *Sink) SaveContent(ctx context.Context, docID string, content []byte, revision int64) error {
	body, err := encodeEnvelope(content, revision)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.objectName(docID), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.objectName(docID), err)
	}
	return nil
}

func (s *Sink) LoadContent(ctx context.Context, docID string) ([]byte, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(docID), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", s.objectName(docID), err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, savestate.ErrNotFound
		}
		return nil, 0, fmt.Errorf("read %s: %w", s.objectName(docID), err)
	}
	return decodeEnvelope(body)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func encodeEnvelope(content []byte, revision int64) ([]byte, error) {
	if !json.Valid(content) {
		return nil, fmt.Errorf("document content is not valid JSON")
	}
	return json.Marshal(envelope{Revision: revision, Content: content})
}

func decodeEnvelope(body []byte) ([]byte, int64, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, fmt.Errorf("decode stored document: %w", err)
	}
	return env.Content, env.Revision, nil
}
