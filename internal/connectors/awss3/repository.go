// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package awss3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/dsx"
)

// ObjectStore contains the S3 operations that the connector uses. It is
// satisfied by *s3.Client.
type ObjectStore interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// MaliciousTag is attached to objects by the "tag" and "move_tag" item actions.
var MaliciousTag = types.Tag{Key: aws.String("Verdict"), Value: aws.String("Malicious")}

// Repository implements the connector handlers for an S3 bucket. Scan
// requests use the object key as location.
type Repository struct {
	cfg    Configuration
	client ObjectStore
}

// NewRepository builds a Repository.
func NewRepository(cfg Configuration, client ObjectStore) *Repository {
	return &Repository{cfg, client}
}

// Handlers returns the connector handlers for this repository.
func (r *Repository) Handlers() connector.Handlers {
	return connector.Handlers{
		Startup: func(ctx context.Context, c *connector.Connector) error {
			logg.Info("S3 connector serves bucket %s with prefix %q (recursive = %t, item action = %s)",
				r.cfg.Bucket, r.cfg.Prefix, r.cfg.Recursive, r.cfg.ItemAction)
			return nil
		},
		FullScan: func(ctx context.Context, c *connector.Connector) dsx.StatusResponse {
			_, resp := c.Dispatch(ctx, r.Enumerate)
			return resp
		},
		ItemAction: r.ItemAction,
		ReadFile:   r.ReadFile,
		RepoCheck:  r.RepoCheck,
	}
}

func (r *Repository) quarantineKey(key string) string {
	return r.cfg.ItemActionMovePrefix + "/" + key
}

func (r *Repository) isQuarantined(key string) bool {
	return strings.HasPrefix(key, r.cfg.ItemActionMovePrefix+"/")
}

// Enumerate yields all objects below the configured prefix, except for folder
// placeholders and objects in quarantine.
func (r *Repository) Enumerate(ctx context.Context, yield func(dsx.ScanRequest) bool) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(r.cfg.Bucket),
		Prefix: aws.String(r.cfg.Prefix),
	}
	if !r.cfg.Recursive {
		input.Delimiter = aws.String("/")
	}
	logg.Debug("listing objects in bucket %s with prefix %q", r.cfg.Bucket, r.cfg.Prefix)

	paginator := s3.NewListObjectsV2Paginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("cannot list objects in bucket %s: %w", r.cfg.Bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || r.isQuarantined(key) {
				continue
			}
			if !yield(dsx.ScanRequest{Location: key, Metainfo: key}) {
				return nil
			}
		}
	}
	return nil
}

// ReadFile implements the read_file capability. The object body is streamed
// to the caller.
func (r *Repository) ReadFile(ctx context.Context, req dsx.ScanRequest) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(req.Location),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("object %s not found in bucket %s: %w", req.Location, r.cfg.Bucket, connector.ErrItemNotFound)
		}
		return nil, fmt.Errorf("cannot get object %s from bucket %s: %w", req.Location, r.cfg.Bucket, err)
	}
	return out.Body, nil
}

// ItemAction implements the item_action capability.
func (r *Repository) ItemAction(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse {
	action := r.cfg.ItemAction
	key := req.Location
	logg.Debug("item action %s on %s/%s invoked", action, r.cfg.Bucket, key)
	invoked := fmt.Sprintf("Item action %s was invoked.", action)

	if action == dsx.ItemActionNothing {
		return dsx.Nothing(invoked, "")
	}

	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return dsx.Error(fmt.Sprintf("Object %s not found in bucket %s.", key, r.cfg.Bucket), "")
		}
		return dsx.Error(fmt.Sprintf("Cannot inspect object %s: %s", key, err.Error()), "")
	}

	switch action {
	case dsx.ItemActionDelete:
		err := r.deleteObject(ctx, key)
		if err != nil {
			return dsx.Error(fmt.Sprintf("Failed to delete object %s: %s", key, err.Error()), "")
		}
		return dsx.Success(invoked, fmt.Sprintf("Object %s successfully deleted.", key))

	case dsx.ItemActionTag:
		err := r.tagObject(ctx, key)
		if err != nil {
			return dsx.Error(fmt.Sprintf("Failed to tag object %s: %s", key, err.Error()), "")
		}
		return dsx.Success(invoked, fmt.Sprintf("Object %s successfully tagged.", key))

	case dsx.ItemActionMove, dsx.ItemActionMoveTag:
		target := r.quarantineKey(key)
		_, err := r.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(r.cfg.Bucket),
			Key:        aws.String(target),
			CopySource: aws.String(copySource(r.cfg.Bucket, key)),
		})
		if err != nil {
			return dsx.Error(fmt.Sprintf("Failed to move object %s: %s", key, err.Error()), "")
		}
		if action == dsx.ItemActionMoveTag {
			err := r.tagObject(ctx, target)
			if err != nil {
				return dsx.Error(fmt.Sprintf("Failed to tag object %s: %s", target, err.Error()), "")
			}
		}
		err = r.deleteObject(ctx, key)
		if err != nil {
			return dsx.Error(fmt.Sprintf("Object %s was copied to %s, but could not be deleted: %s", key, target, err.Error()), "")
		}
		return dsx.Success(invoked, fmt.Sprintf("Object %s successfully moved to %s.", key, target))

	default:
		return dsx.Nothing(fmt.Sprintf("Item action %s not implemented.", action), "")
	}
}

func (r *Repository) deleteObject(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	return err
}

func (r *Repository) tagObject(ctx context.Context, key string) error {
	_, err := r.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(r.cfg.Bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: []types.Tag{MaliciousTag}},
	})
	return err
}

// copySource renders the CopySource parameter of CopyObject, which needs to
// be URL-encoded.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for idx, segment := range segments {
		segments[idx] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// RepoCheck implements the repo_check capability.
func (r *Repository) RepoCheck(ctx context.Context) bool {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.cfg.Bucket)})
	if err != nil {
		logg.Error("cannot access bucket %s: %s", r.cfg.Bucket, err.Error())
		return false
	}
	return true
}
