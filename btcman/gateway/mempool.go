package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Well-known esplora endpoints.
const (
	MainnetAPI  = "https://mempool.space/api"
	Testnet4API = "https://mempool.space/testnet4/api"
)

// MempoolClient implements Gateway against a mempool.space compatible
// REST API. No suitable Go client library exists for the esplora surface
// we need, so the four calls are issued with net/http directly.
type MempoolClient struct {
	baseURL string
	client  *http.Client
}

func NewMempoolClient(baseURL string) *MempoolClient {
	return &MempoolClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// esplora wire formats

type esploraUtxo struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed bool  `json:"confirmed"`
		BlockTime int64 `json:"block_time"`
	} `json:"status"`
}

type esploraAddressStats struct {
	ChainStats struct {
		TxCount int64 `json:"tx_count"`
	} `json:"chain_stats"`
	MempoolStats struct {
		TxCount int64 `json:"tx_count"`
	} `json:"mempool_stats"`
}

type esploraTx struct {
	Status struct {
		Confirmed bool  `json:"confirmed"`
		BlockTime int64 `json:"block_time"`
	} `json:"status"`
}

type esploraFees struct {
	FastestFee  int64 `json:"fastestFee"`
	HalfHourFee int64 `json:"halfHourFee"`
	HourFee     int64 `json:"hourFee"`
}

func (m *MempoolClient) GetAddressUtxo(ctx context.Context, address string) ([]AddressUtxo, error) {
	var raw []esploraUtxo
	err := retry(ctx, "getAddressUtxo", func() error {
		return m.getJSON(ctx, "/address/"+address+"/utxo", &raw)
	})
	if err != nil {
		return nil, err
	}

	utxos := make([]AddressUtxo, 0, len(raw))
	for _, u := range raw {
		utxos = append(utxos, AddressUtxo{
			TxID:      u.TxID,
			Vout:      u.Vout,
			Value:     u.Value,
			Confirmed: u.Status.Confirmed,
			BlockTime: u.Status.BlockTime,
		})
	}
	return utxos, nil
}

func (m *MempoolClient) AddressLastUsedAt(ctx context.Context, address string) (time.Time, error) {
	var stats esploraAddressStats
	err := retry(ctx, "addressStats", func() error {
		return m.getJSON(ctx, "/address/"+address, &stats)
	})
	if err != nil {
		return time.Time{}, err
	}

	if stats.ChainStats.TxCount+stats.MempoolStats.TxCount == 0 {
		return time.Time{}, nil
	}

	// The stats endpoint has no timestamps; look at the newest tx.
	var txs []esploraTx
	err = retry(ctx, "addressTxs", func() error {
		return m.getJSON(ctx, "/address/"+address+"/txs", &txs)
	})
	if err != nil {
		return time.Time{}, err
	}
	if len(txs) == 0 {
		return time.Time{}, nil
	}
	if !txs[0].Status.Confirmed {
		// Still in the mempool: treat as used right now.
		return time.Now(), nil
	}
	return time.Unix(txs[0].Status.BlockTime, 0), nil
}

func (m *MempoolClient) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	var txid string
	err := retry(ctx, "broadcast", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "text/plain")

		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("broadcast rejected: status=%d body=%s", resp.StatusCode, string(body))
		}
		txid = strings.TrimSpace(string(body))
		return nil
	})
	if err != nil {
		return "", err
	}
	return txid, nil
}

func (m *MempoolClient) GetFeeEstimate(ctx context.Context) (*FeeEstimate, error) {
	var fees esploraFees
	err := retry(ctx, "getFeeEstimate", func() error {
		return m.getJSON(ctx, "/v1/fees/recommended", &fees)
	})
	if err != nil {
		return nil, err
	}
	return &FeeEstimate{
		FastestFee:  fees.FastestFee,
		HalfHourFee: fees.HalfHourFee,
		HourFee:     fees.HourFee,
	}, nil
}

func (m *MempoolClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: status=%d body=%s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
