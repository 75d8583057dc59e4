package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mybak/internal/config"
)

// fakeVault serves a minimal subset of the Vault HTTP API.
func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, body any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}
	mux.HandleFunc("/v1/auth/approle/role/backup/secret-id", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": map[string]any{"secret_id": "sid-1"}})
	})
	mux.HandleFunc("/v1/auth/approle/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "role-1", body["role_id"])
		assert.Equal(t, "sid-1", body["secret_id"])
		write(w, map[string]any{"auth": map[string]any{"client_token": "approle-token"}})
	})
	mux.HandleFunc("/v1/database/creds/backup", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "approle-token", r.Header.Get("X-Vault-Token"))
		write(w, map[string]any{
			"lease_duration": 3600,
			"data":           map[string]any{"username": "v-backup-abc", "password": "pw"},
		})
	})
	mux.HandleFunc("/v1/secret/data/mybak", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": map[string]any{
			"data":     map[string]any{"azure_account_key": "a2V5", "s3_access_key_id": "AKIA"},
			"metadata": map[string]any{"version": 3},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFromConfig_NoPaths(t *testing.T) {
	c, err := FromConfig(context.Background(), config.VaultConfig{Address: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestClient_AppRoleAndSecrets(t *testing.T) {
	srv := fakeVault(t)
	ctx := context.Background()

	c, err := FromConfig(ctx, config.VaultConfig{
		Address:     srv.URL,
		RoleID:      "role-1",
		RoleName:    "backup",
		MySQLPath:   "database/creds/backup",
		StoragePath: "secret/data/mybak",
	})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.HasMySQLPath())

	user, pass, err := c.MySQLCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v-backup-abc", user)
	assert.Equal(t, "pw", pass)

	creds, err := c.GetDynamicCredentials(ctx, "database/creds/backup")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, creds.TTL)

	storage := config.StorageConfig{
		Azure: config.AzureConfig{AccountKey: ""},
		S3:    config.S3Config{SecretAccessKey: "from-config"},
	}
	require.NoError(t, c.ApplyStorageSecrets(ctx, &storage))
	assert.Equal(t, "a2V5", storage.Azure.AccountKey)
	assert.Equal(t, "AKIA", storage.S3.AccessKeyID)
	assert.Equal(t, "from-config", storage.S3.SecretAccessKey)
}

func TestClient_MissingSecret(t *testing.T) {
	srv := fakeVault(t)
	c, err := NewClient(context.Background(), WithAddress(srv.URL), WithToken("t"))
	require.NoError(t, err)

	_, err = c.GetDynamicCredentials(context.Background(), "database/creds/absent")
	assert.Error(t, err)
}

func TestDecodeDynamic(t *testing.T) {
	_, err := decodeDynamic(map[string]any{"username": "u"})
	assert.Error(t, err)

	creds, err := decodeDynamic(map[string]any{"username": "u", "password": "p", "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, "u", creds.Username)
}

func TestDecodeStorage_KVv1(t *testing.T) {
	s, err := decodeStorage(map[string]any{"s3_secret_access_key": "shh"})
	require.NoError(t, err)
	assert.Equal(t, "shh", s.S3SecretAccessKey)
}
