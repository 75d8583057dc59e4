package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/logger"
	"github.com/kebairia/mybak/internal/shell"
)

const (
	azureBlockSize  = 4 * 1024 * 1024
	azureMaxBuffers = 4
)

// Azure uploads to Azure Blob Storage. Account creation and key discovery
// go through the az CLI; blob operations use the azblob SDK.
type Azure struct {
	cfg    config.AzureConfig
	runner shell.Runner
	log    logger.Logger

	mu         sync.Mutex
	serviceURL *azblob.ServiceURL
}

var _ Provider = (*Azure)(nil)

// NewAzure returns an Azure provider. The blob client is built lazily once
// the account exists and its key is known.
func NewAzure(cfg config.AzureConfig, runner shell.Runner, log logger.Logger) *Azure {
	if runner == nil {
		runner = shell.ExecRunner{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.CLI == "" {
		cfg.CLI = "az"
	}
	return &Azure{cfg: cfg, runner: runner, log: log}
}

func (a *Azure) Name() string { return config.ProviderAzure }

// CreateAccountArgs builds the `az storage account create` argv.
func (a *Azure) CreateAccountArgs() []string {
	sku := a.cfg.SKU
	if sku == "" {
		sku = "Standard_LRS"
	}
	return []string{
		"storage", "account", "create",
		"--name", a.cfg.AccountName,
		"--resource-group", a.cfg.ResourceGroup,
		"--location", a.cfg.Location,
		"--sku", sku,
		"--kind", "StorageV2",
		"--output", "none",
	}
}

// KeyListArgs builds the `az storage account keys list` argv.
func (a *Azure) KeyListArgs() []string {
	return []string{
		"storage", "account", "keys", "list",
		"--account-name", a.cfg.AccountName,
		"--resource-group", a.cfg.ResourceGroup,
		"--query", "[0].value",
		"--output", "tsv",
	}
}

// EnsureTarget creates the storage account (failure only warns: it most
// often already exists under another subscription context) and then the
// container if absent.
func (a *Azure) EnsureTarget(ctx context.Context, container string) error {
	if a.cfg.CreateAccount {
		if _, err := a.runner.Run(ctx, shell.Command{Name: a.cfg.CLI, Args: a.CreateAccountArgs()}); err != nil {
			a.log.Warn("storage account create failed, continuing",
				"account", a.cfg.AccountName,
				"resource_group", a.cfg.ResourceGroup,
				"error", err.Error(),
			)
		} else {
			a.log.Info("storage account ensured", "account", a.cfg.AccountName)
		}
	}

	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	_, err = svc.NewContainerURL(container).Create(ctx, azblob.Metadata{"created-by": "mybak"}, azblob.PublicAccessNone)
	if err != nil {
		var stgErr azblob.StorageError
		if errors.As(err, &stgErr) && stgErr.ServiceCode() == azblob.ServiceCodeContainerAlreadyExists {
			a.log.Debug("container already exists", "container", container)
			return nil
		}
		return fmt.Errorf("%w: create container %s: %v", ErrTargetFailed, container, err)
	}
	a.log.Info("container created", "account", a.cfg.AccountName, "container", container)
	return nil
}

// Upload streams r into a block blob.
func (a *Azure) Upload(ctx context.Context, container, name string, r io.Reader, size int64) (string, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return "", err
	}
	blobURL := svc.NewContainerURL(container).NewBlockBlobURL(name)
	_, err = azblob.UploadStreamToBlockBlob(ctx, r, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: azureBlockSize,
		MaxBuffers: azureMaxBuffers,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: ContentType(name),
		},
		Metadata: azblob.Metadata{"created-by": "mybak"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrUploadFailed, container, name, err)
	}
	u := blobURL.URL()
	return u.String(), nil
}

// Confirm compares the remote blob length with size.
func (a *Azure) Confirm(ctx context.Context, container, name string, size int64) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	props, err := svc.NewContainerURL(container).NewBlockBlobURL(name).
		GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrNotConfirmed, container, name, err)
	}
	return confirmSize(name, size, props.ContentLength())
}

// service builds the azblob service URL once the account key is known.
func (a *Azure) service(ctx context.Context) (*azblob.ServiceURL, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.serviceURL != nil {
		return a.serviceURL, nil
	}

	key := a.cfg.AccountKey
	if key == "" {
		res, err := a.runner.Run(ctx, shell.Command{Name: a.cfg.CLI, Args: a.KeyListArgs()})
		if err != nil {
			return nil, fmt.Errorf("%w: resolve account key: %v", ErrTargetFailed, err)
		}
		key = strings.TrimSpace(string(res.Stdout))
		if key == "" {
			return nil, fmt.Errorf("%w: az returned an empty account key", ErrTargetFailed)
		}
	}

	credential, err := azblob.NewSharedKeyCredential(a.cfg.AccountName, key)
	if err != nil {
		return nil, fmt.Errorf("%w: azure credentials: %v", ErrTargetFailed, err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	endpoint := a.cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", a.cfg.AccountName)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse azure endpoint: %v", ErrTargetFailed, err)
	}
	svc := azblob.NewServiceURL(*u, pipeline)
	a.serviceURL = &svc
	return a.serviceURL, nil
}
