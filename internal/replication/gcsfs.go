package replication

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSFS implements RemoteFS against one Google Cloud Storage bucket.
type GCSFS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSFS builds a GCSFS for bucket using ambient application-default
// credentials, scoping every key under prefix.
func NewGCSFS(ctx context.Context, bucket, prefix string) (*GCSFS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSFS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (f *GCSFS) key(k string) string {
	if f.prefix == "" {
		return k
	}
	return strings.TrimSuffix(f.prefix, "/") + "/" + k
}

func (f *GCSFS) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	it := f.client.Bucket(f.bucket).Objects(ctx, &storage.Query{Prefix: f.key(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimPrefix(attrs.Name, f.key("")))
	}
	return out, nil
}

func (f *GCSFS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := f.client.Bucket(f.bucket).Object(f.key(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &NotExistError{Key: key}
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (f *GCSFS) Put(ctx context.Context, key string, data []byte) error {
	w := f.client.Bucket(f.bucket).Object(f.key(key)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (f *GCSFS) Delete(ctx context.Context, key string) error {
	err := f.client.Bucket(f.bucket).Object(f.key(key)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
