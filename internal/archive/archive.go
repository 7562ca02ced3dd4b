package archive

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// #endregion

// Archive stores uploaded documents for later manual review.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte, string) error { return nil }

// #region config

// Config selects the blob container. Either ConnectionString or AccountURL
// must be set; AccountURL authenticates with the default Azure credential chain.
type Config struct {
	ConnectionString string
	AccountURL       string
	Container        string
	Prefix           string
}

// DefaultConfig reads ARCHIVE_CONNECTION_STRING, ARCHIVE_ACCOUNT_URL,
// ARCHIVE_CONTAINER and ARCHIVE_PREFIX.
func DefaultConfig() Config {
	cfg := Config{
		ConnectionString: os.Getenv("ARCHIVE_CONNECTION_STRING"),
		AccountURL:       os.Getenv("ARCHIVE_ACCOUNT_URL"),
		Container:        "verifications",
	}
	if v := os.Getenv("ARCHIVE_CONTAINER"); v != "" {
		cfg.Container = v
	}
	cfg.Prefix = strings.Trim(os.Getenv("ARCHIVE_PREFIX"), "/")
	return cfg
}

// Enabled reports whether any storage account is configured.
func (c Config) Enabled() bool {
	return c.ConnectionString != "" || c.AccountURL != ""
}

// #endregion

// #region blob

// uploader is the slice of *azblob.Client the archive uses.
type uploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobArchive writes documents to an Azure Blob Storage container.
type BlobArchive struct {
	client    uploader
	container string
	prefix    string
}

// NewBlobArchive connects to the configured storage account.
func NewBlobArchive(cfg Config) (*BlobArchive, error) {
	if cfg.Container == "" {
		return nil, errors.New("archive: container is required")
	}
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountURL != "":
		cred, cerr := azidentity.NewDefaultAzureCredential(nil)
		if cerr != nil {
			return nil, fmt.Errorf("archive credential: %w", cerr)
		}
		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	default:
		return nil, errors.New("archive: no storage account configured")
	}
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}
	return newBlobArchive(client, cfg), nil
}

func newBlobArchive(client uploader, cfg Config) *BlobArchive {
	return &BlobArchive{client: client, container: cfg.Container, prefix: strings.Trim(cfg.Prefix, "/")}
}

// Put uploads data under key, replacing any existing blob.
func (a *BlobArchive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return errors.New("archive: empty key")
	}
	name := key
	if a.prefix != "" {
		name = a.prefix + "/" + key
	}
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := a.client.UploadBuffer(ctx, a.container, name, data, opts); err != nil {
		return fmt.Errorf("archive put %s: %w", name, err)
	}
	log.Printf("[ARCHIVE] stored %s/%s (%d bytes)", a.container, name, len(data))
	return nil
}

// #endregion
