package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
)

// ErrProofNotReady is returned while the proof service has not yet
// generated an attestation for the fill.
var ErrProofNotReady = errors.New("proof not ready")

const (
	proofPollMaxAttempts     = 10
	proofPollInitialInterval = 5 * time.Second
	proofPollMaxInterval     = 30 * time.Second
)

// ProofClient polls an external proof-generation service for fill
// attestations keyed by the fill transaction's position.
type ProofClient struct {
	baseURL string
	client  *http.Client
}

func NewProofClient(baseURL string) *ProofClient {
	return &ProofClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ProofClient) fetch(ctx context.Context, chainId uint64, txHash string, logIndex uint) ([]byte, error) {
	url := fmt.Sprintf("%s/proof/%d/%s/%d", p.baseURL, chainId, txHash, logIndex)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusAccepted:
		return nil, ErrProofNotReady
	default:
		return nil, fmt.Errorf("proof service: status=%d", resp.StatusCode)
	}

	var payload struct {
		Proof string `json:"proof"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return common.HexStrToByteSlice(payload.Proof), nil
}

// AwaitProof polls until the proof service produces the attestation,
// with bounded exponential backoff. Exhaustion surfaces the last
// error.
func (p *ProofClient) AwaitProof(ctx context.Context, chainId uint64, txHash string, logIndex uint) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = proofPollInitialInterval
	policy.MaxInterval = proofPollMaxInterval

	var proof []byte
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		proof, err = p.fetch(ctx, chainId, txHash, logIndex)
		if errors.Is(err, ErrProofNotReady) {
			logger.Debugf("proof not ready: chain=%d tx=%s attempt=%d", chainId, txHash, attempt)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, proofPollMaxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return proof, nil
}
