package replication

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureFS implements RemoteFS against one Azure Blob Storage container.
type AzureFS struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewAzureFS builds an AzureFS bound to containerName within the account
// at serviceURL, scoping every key under prefix.
func NewAzureFS(serviceURL string, cred azcore.TokenCredential, containerName, prefix string) (*AzureFS, error) {
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &AzureFS{client: client, containerName: containerName, prefix: prefix}, nil
}

func (f *AzureFS) key(k string) string {
	if f.prefix == "" {
		return k
	}
	return strings.TrimSuffix(f.prefix, "/") + "/" + k
}

func (f *AzureFS) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	cc := f.client.ServiceClient().NewContainerClient(f.containerName)
	full := f.key(prefix)
	pager := cc.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &full})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, b := range page.Segment.BlobItems {
			if b.Name != nil {
				out = append(out, strings.TrimPrefix(*b.Name, f.key("")))
			}
		}
	}
	return out, nil
}

func (f *AzureFS) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := f.client.DownloadStream(ctx, f.containerName, f.key(key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, &NotExistError{Key: key}
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (f *AzureFS) Put(ctx context.Context, key string, data []byte) error {
	_, err := f.client.UploadBuffer(ctx, f.containerName, f.key(key), data, nil)
	return err
}

func (f *AzureFS) Delete(ctx context.Context, key string) error {
	_, err := f.client.DeleteBlob(ctx, f.containerName, f.key(key), nil)
	if err != nil && bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}
