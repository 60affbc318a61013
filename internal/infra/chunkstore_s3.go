package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client the chunk store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3ChunkStore stages chunks as objects under <prefix>/<sessionID>/chunk_NNNNNN.
type S3ChunkStore struct {
	client S3API
	bucket string
	prefix string
}

func NewS3ChunkStore(client S3API, bucket, prefix string) ports.ChunkStore {
	return &S3ChunkStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3ChunkStore) sessionPrefix(sessionID string) (string, error) {
	if !models.ValidSessionID(sessionID) {
		return "", apperr.Newf(apperr.KindValidation, "chunk store", "invalid session id %q", sessionID)
	}
	return path.Join(s.prefix, sessionID) + "/", nil
}

func (s *S3ChunkStore) Put(ctx context.Context, sessionID string, index, totalChunks int, r io.Reader) error {
	if totalChunks <= 0 || index < 0 || index >= totalChunks {
		return apperr.WithIndex(apperr.KindInvalidIndex, "put chunk", index,
			fmt.Errorf("index must be in [0,%d)", totalChunks))
	}
	prefix, err := s.sessionPrefix(sessionID)
	if err != nil {
		return err
	}

	// the SDK needs a seekable body to sign the payload
	data, err := io.ReadAll(r)
	if err != nil {
		return apperr.WithIndex(apperr.KindStorage, "put chunk", index, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(prefix + chunkName(index)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return apperr.WithIndex(apperr.KindStorage, "put chunk", index, err)
	}
	return nil
}

func (s *S3ChunkStore) list(ctx context.Context, prefix string) ([]types.Object, error) {
	var objects []types.Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apperr.New(apperr.KindStorage, "list chunks", err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

func (s *S3ChunkStore) HasAll(ctx context.Context, sessionID string, totalChunks int) (bool, error) {
	prefix, err := s.sessionPrefix(sessionID)
	if err != nil {
		return false, err
	}
	if totalChunks <= 0 {
		return false, nil
	}
	objects, err := s.list(ctx, prefix)
	if err != nil {
		return false, err
	}

	seen := make(map[int]struct{}, len(objects))
	for _, obj := range objects {
		idx, ok := parseChunkKey(aws.ToString(obj.Key))
		if ok && idx < totalChunks {
			seen[idx] = struct{}{}
		}
	}
	return len(seen) == totalChunks, nil
}

func parseChunkKey(key string) (int, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "chunk_") {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(name, "chunk_"))
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func (s *S3ChunkStore) Open(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	prefix, err := s.sessionPrefix(sessionID)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(prefix + chunkName(index)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperr.WithIndex(apperr.KindMissingChunk, "open chunk", index, err)
		}
		return nil, apperr.WithIndex(apperr.KindStorage, "open chunk", index, err)
	}
	return out.Body, nil
}

func (s *S3ChunkStore) Delete(ctx context.Context, sessionID string) error {
	prefix, err := s.sessionPrefix(sessionID)
	if err != nil {
		return nil
	}
	objects, err := s.list(ctx, prefix)
	if err != nil {
		return err
	}

	const batchSize = 1000
	for start := 0; start < len(objects); start += batchSize {
		end := min(start+batchSize, len(objects))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return apperr.New(apperr.KindStorage, "delete session", err)
		}
	}
	return nil
}

// lastModified groups objects under the store prefix by session.
func (s *S3ChunkStore) lastModified(ctx context.Context) (map[string]time.Time, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	objects, err := s.list(ctx, root)
	if err != nil {
		return nil, err
	}
	sessions := make(map[string]time.Time)
	for _, obj := range objects {
		rest := strings.TrimPrefix(aws.ToString(obj.Key), root)
		sessionID, _, ok := strings.Cut(rest, "/")
		if !ok || sessionID == "" {
			continue
		}
		mod := aws.ToTime(obj.LastModified)
		if mod.After(sessions[sessionID]) {
			sessions[sessionID] = mod
		}
	}
	return sessions, nil
}

func (s *S3ChunkStore) Stale(ctx context.Context, cutoff time.Time) ([]string, error) {
	sessions, err := s.lastModified(ctx)
	if err != nil {
		return nil, err
	}
	var stale []string
	for id, mod := range sessions {
		if mod.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

func (s *S3ChunkStore) Sessions(ctx context.Context) (int, error) {
	sessions, err := s.lastModified(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}
