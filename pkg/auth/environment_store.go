package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements CredentialStore using environment variables.
// This is the usual path for unattended deployments.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(label string) (*Account, error) {
	appKey := os.Getenv("DROPBOX_APP_KEY")
	appSecret := os.Getenv("DROPBOX_APP_SECRET")
	refreshToken := os.Getenv("DROPBOX_REFRESH_TOKEN")
	accessToken := os.Getenv("DROPBOX_ACCESS_TOKEN")

	account := &Account{
		Label:        label,
		AppKey:       appKey,
		AppSecret:    appSecret,
		RefreshToken: refreshToken,
		AccessToken:  accessToken,
		LastModified: time.Now(),
	}

	if !account.HasRefreshFlow() && account.AccessToken == "" {
		return nil, ErrCredentialsNotFound
	}

	// Environment variables don't carry a label
	if account.Label == "" {
		account.Label = "default"
	}

	return account, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(label string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(label string) bool {
	_, err := e.Retrieve(label)
	return err == nil
}
