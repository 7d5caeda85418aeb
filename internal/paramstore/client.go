// Package paramstore reads deployment secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the part of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter fetches a single decrypted parameter value.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Secrets holds the values the server pulls from the parameter store.
type Secrets struct {
	JWTSecret       string
	VAPIDPrivateKey string
}

// Parameter names under the prefix.
const (
	JWTSecretName       = "jwt-secret"
	VAPIDPrivateKeyName = "vapid-private-key"
)

// LoadSecrets reads <prefix>/jwt-secret and <prefix>/vapid-private-key.
// Missing parameters are left empty so env or file values stay in effect.
func LoadSecrets(ctx context.Context, g Getter, prefix string) (Secrets, error) {
	var s Secrets
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return s, errors.New("paramstore: prefix is required")
	}

	targets := []struct {
		name string
		dst  *string
	}{
		{JWTSecretName, &s.JWTSecret},
		{VAPIDPrivateKeyName, &s.VAPIDPrivateKey},
	}
	for _, t := range targets {
		v, err := g.GetParameter(ctx, prefix+"/"+t.name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Secrets{}, err
		}
		*t.dst = strings.TrimSpace(v)
	}
	return s, nil
}
