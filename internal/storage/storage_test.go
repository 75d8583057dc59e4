package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/shell"
)

func TestContainerName(t *testing.T) {
	tests := []struct {
		prefix, label string
		want          string
		wantErr       bool
	}{
		{prefix: "mysql-backup", label: "2024-01-01", want: "mysql-backup-2024-01-01"},
		{prefix: "MySQL_Backup", label: "Nightly", want: "mysql-backup-nightly"},
		{prefix: "bak", label: "a__b", want: "bak-a-b"},
		{prefix: "", label: "x", wantErr: true},
		{prefix: "p", label: strings.Repeat("a", 70), wantErr: true},
		{prefix: "p", label: "ünicode", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.prefix+"/"+tt.label, func(t *testing.T) {
			got, err := ContainerName(tt.prefix, tt.label)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObjectNameAndContentType(t *testing.T) {
	assert.Equal(t, "sql-backup-2024-01-01.tar.gz", ObjectName(KindSQL, "2024-01-01", ".tar.gz"))
	assert.Equal(t, "binlog-backup-2024-01-01.tar.zst", ObjectName(KindBinlog, "2024-01-01", ".tar.zst"))
	assert.Equal(t, "application/gzip", ContentType("a.tar.gz"))
	assert.Equal(t, "application/zstd", ContentType("a.tar.zst"))
	assert.Equal(t, "application/octet-stream", ContentType("a.bin"))
}

type fakeRunner struct {
	commands []shell.Command
	results  map[string]shell.Result
	errs     map[string]error
}

func (f *fakeRunner) Run(_ context.Context, cmd shell.Command) (shell.Result, error) {
	f.commands = append(f.commands, cmd)
	key := strings.Join(cmd.Args[:3], " ")
	return f.results[key], f.errs[key]
}

func TestAzure_CommandArgs(t *testing.T) {
	a := NewAzure(config.AzureConfig{
		AccountName:   "mybakacct",
		ResourceGroup: "rg-backup",
		Location:      "westeurope",
	}, &fakeRunner{}, nil)

	assert.Equal(t, []string{
		"storage", "account", "create",
		"--name", "mybakacct",
		"--resource-group", "rg-backup",
		"--location", "westeurope",
		"--sku", "Standard_LRS",
		"--kind", "StorageV2",
		"--output", "none",
	}, a.CreateAccountArgs())
	assert.Equal(t, []string{
		"storage", "account", "keys", "list",
		"--account-name", "mybakacct",
		"--resource-group", "rg-backup",
		"--query", "[0].value",
		"--output", "tsv",
	}, a.KeyListArgs())
}

func TestAzure_AccountCreateFailureOnlyWarns(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"storage account create": errors.New("already exists"),
		"storage account keys":   errors.New("forbidden"),
	}}
	a := NewAzure(config.AzureConfig{
		AccountName:   "mybakacct",
		ResourceGroup: "rg-backup",
		Location:      "westeurope",
		CreateAccount: true,
	}, runner, nil)

	err := a.EnsureTarget(context.Background(), "mysql-backup-2024-01-01")

	// The create failure is tolerated; the key lookup failure is not.
	require.Len(t, runner.commands, 2)
	assert.Equal(t, "az", runner.commands[0].Name)
	assert.ErrorIs(t, err, ErrTargetFailed)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestAzure_EmptyKeyRejected(t *testing.T) {
	runner := &fakeRunner{results: map[string]shell.Result{
		"storage account keys": {Stdout: []byte("\n")},
	}}
	a := NewAzure(config.AzureConfig{AccountName: "acct", ResourceGroup: "rg"}, runner, nil)

	_, err := a.Upload(context.Background(), "c", "o", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrTargetFailed)
}

type fakeS3 struct {
	buckets map[string]bool
	objects map[string][]byte
	created []*s3.CreateBucketInput
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = append(f.created, in)
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not expected")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not expected")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not expected")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3_EnsureTargetCreatesMissingBucket(t *testing.T) {
	client := newFakeS3()
	p := NewS3(client, "eu-west-1", nil)

	require.NoError(t, p.EnsureTarget(context.Background(), "mysql-backup-2024-01-01"))
	require.Len(t, client.created, 1)
	assert.Equal(t, types.BucketLocationConstraint("eu-west-1"),
		client.created[0].CreateBucketConfiguration.LocationConstraint)

	// Second call finds the bucket and creates nothing.
	require.NoError(t, p.EnsureTarget(context.Background(), "mysql-backup-2024-01-01"))
	assert.Len(t, client.created, 1)
}

func TestS3_EnsureTargetDefaultRegion(t *testing.T) {
	client := newFakeS3()
	require.NoError(t, NewS3(client, "us-east-1", nil).EnsureTarget(context.Background(), "bucket-a"))
	require.Len(t, client.created, 1)
	assert.Nil(t, client.created[0].CreateBucketConfiguration)
}

func TestS3_EnsureTargetHeadError(t *testing.T) {
	client := newFakeS3()
	client.headErr = errors.New("access denied")
	err := NewS3(client, "us-east-1", nil).EnsureTarget(context.Background(), "bucket-a")
	assert.ErrorIs(t, err, ErrTargetFailed)
	assert.Empty(t, client.created)
}

func TestS3_UploadAndConfirm(t *testing.T) {
	client := newFakeS3()
	p := NewS3(client, "us-east-1", nil)
	body := []byte("archive bytes")

	loc, err := p.Upload(context.Background(), "bucket-a", "sql-backup-x.tar.gz", bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket-a/sql-backup-x.tar.gz", loc)
	assert.Equal(t, body, client.objects["bucket-a/sql-backup-x.tar.gz"])

	require.NoError(t, p.Confirm(context.Background(), "bucket-a", "sql-backup-x.tar.gz", int64(len(body))))
	assert.ErrorIs(t, p.Confirm(context.Background(), "bucket-a", "sql-backup-x.tar.gz", 1), ErrNotConfirmed)
	assert.ErrorIs(t, p.Confirm(context.Background(), "bucket-a", "missing", 1), ErrNotConfirmed)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Provider: "ftp"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNew_Azure(t *testing.T) {
	p, err := New(context.Background(), config.StorageConfig{
		Provider: config.ProviderAzure,
		Azure:    config.AzureConfig{AccountName: "acct", AccountKey: "a2V5"},
	}, &fakeRunner{}, nil)
	require.NoError(t, err)
	assert.Equal(t, config.ProviderAzure, p.Name())
}
