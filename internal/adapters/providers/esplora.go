package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/satoshis-endgame/sentinel/pkg/models"
)

const (
	blockstreamBaseURL  = "https://blockstream.info/api"
	mempoolSpaceBaseURL = "https://mempool.space/api"

	// Esplora pages block transactions 25 at a time.
	esploraTxPageSize = 25
)

// EsploraProvider implements ChainProvider against the Esplora HTTP API,
// served by both blockstream.info and mempool.space.
type EsploraProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewBlockstreamProvider creates the blockstream.info adapter.
func NewBlockstreamProvider(baseURL string) *EsploraProvider {
	if baseURL == "" {
		baseURL = blockstreamBaseURL
	}
	return newEsplora("blockstream", baseURL)
}

// NewMempoolSpaceProvider creates the mempool.space adapter.
func NewMempoolSpaceProvider(baseURL string) *EsploraProvider {
	if baseURL == "" {
		baseURL = mempoolSpaceBaseURL
	}
	return newEsplora("mempoolspace", baseURL)
}

func newEsplora(name, baseURL string) *EsploraProvider {
	return &EsploraProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Name returns provider name
func (e *EsploraProvider) Name() string {
	return e.name
}

func (e *EsploraProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return nil, NewProviderError(e.name, ErrKindNetwork, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, NewProviderError(e.name, ErrKindNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError(e.name, ErrKindNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewProviderError(e.name, ErrKindRateLimit,
			fmt.Errorf("HTTP 429 on %s", path))
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, NewProviderError(e.name, ErrKindNetwork,
			fmt.Errorf("HTTP %d on %s", resp.StatusCode, path))
	default:
		return nil, NewProviderError(e.name, ErrKindInvalidResponse,
			fmt.Errorf("HTTP %d on %s: %s", resp.StatusCode, path, truncate(body, 120)))
	}
}

// LatestHeight returns the current chain tip height.
func (e *EsploraProvider) LatestHeight(ctx context.Context) (int64, error) {
	body, err := e.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, NewProviderError(e.name, ErrKindInvalidResponse,
			fmt.Errorf("bad tip height %q: %w", truncate(body, 40), err))
	}
	return height, nil
}

type esploraBlock struct {
	ID                string `json:"id"`
	Height            int64  `json:"height"`
	Timestamp         int64  `json:"timestamp"`
	TxCount           int    `json:"tx_count"`
	PreviousBlockHash string `json:"previousblockhash"`
}

type esploraVout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// voutKey returns the identity of an output: its address, or for P2PK
// outputs (which have none) the exposed public key. Empty for scripts that
// carry neither.
func voutKey(v *esploraVout) string {
	if v.ScriptPubKeyAddress != "" {
		return v.ScriptPubKeyAddress
	}
	if models.IsP2PKScript(v.ScriptPubKey) {
		return models.ExtractP2PKPublicKey(v.ScriptPubKey)
	}
	return ""
}

type esploraTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		PrevOut *esploraVout `json:"prevout"`
	} `json:"vin"`
	Vout []esploraVout `json:"vout"`
}

// GetBlock fetches a block by height: hash lookup, header, then paged
// transactions.
func (e *EsploraProvider) GetBlock(ctx context.Context, height int64) (*models.Block, error) {
	hashBody, err := e.get(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return nil, err
	}
	hash := strings.TrimSpace(string(hashBody))
	if len(hash) != 64 {
		return nil, NewProviderError(e.name, ErrKindInvalidResponse,
			fmt.Errorf("bad block hash %q for height %d", truncate(hashBody, 70), height))
	}

	headerBody, err := e.get(ctx, "/block/"+hash)
	if err != nil {
		return nil, err
	}
	var header esploraBlock
	if err := json.Unmarshal(headerBody, &header); err != nil {
		return nil, NewProviderError(e.name, ErrKindInvalidResponse,
			fmt.Errorf("bad block header: %w", err))
	}

	block := &models.Block{
		Height:    header.Height,
		Hash:      header.ID,
		PrevHash:  header.PreviousBlockHash,
		Timestamp: time.Unix(header.Timestamp, 0).UTC(),
	}

	for start := 0; start < header.TxCount; start += esploraTxPageSize {
		pageBody, err := e.get(ctx, fmt.Sprintf("/block/%s/txs/%d", hash, start))
		if err != nil {
			return nil, err
		}
		var page []esploraTx
		if err := json.Unmarshal(pageBody, &page); err != nil {
			return nil, NewProviderError(e.name, ErrKindInvalidResponse,
				fmt.Errorf("bad tx page at %d: %w", start, err))
		}
		if len(page) == 0 {
			break
		}
		for _, tx := range page {
			block.Transactions = append(block.Transactions, convertEsploraTx(tx))
		}
	}

	return block, nil
}

func convertEsploraTx(tx esploraTx) models.BlockTx {
	out := models.BlockTx{TxID: tx.TxID}
	for _, in := range tx.Vin {
		if in.PrevOut == nil {
			continue // coinbase
		}
		key := voutKey(in.PrevOut)
		if key == "" {
			continue // non-standard input
		}
		out.Inputs = append(out.Inputs, models.TxAddr{
			Address:   key,
			ValueSats: in.PrevOut.Value,
		})
	}
	for _, o := range tx.Vout {
		key := voutKey(&o)
		if key == "" {
			continue
		}
		out.Outputs = append(out.Outputs, models.TxAddr{
			Address:   key,
			ValueSats: o.Value,
		})
	}
	return out
}

type esploraAddress struct {
	Address    string `json:"address"`
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
		TxCount      int   `json:"tx_count"`
	} `json:"chain_stats"`
}

type esploraAddressTx struct {
	Status struct {
		Confirmed bool  `json:"confirmed"`
		BlockTime int64 `json:"block_time"`
	} `json:"status"`
}

// AddressInfo returns confirmed balance, tx count and the time of the most
// recent confirmed transaction.
func (e *EsploraProvider) AddressInfo(ctx context.Context, address string) (*models.AddressInfo, error) {
	body, err := e.get(ctx, "/address/"+address)
	if err != nil {
		return nil, err
	}
	var addr esploraAddress
	if err := json.Unmarshal(body, &addr); err != nil {
		return nil, NewProviderError(e.name, ErrKindInvalidResponse,
			fmt.Errorf("bad address payload: %w", err))
	}

	info := &models.AddressInfo{
		Address:     address,
		BalanceSats: addr.ChainStats.FundedTxoSum - addr.ChainStats.SpentTxoSum,
		TxCount:     addr.ChainStats.TxCount,
	}

	// Last activity comes from the newest confirmed tx; absence is not fatal.
	txBody, err := e.get(ctx, "/address/"+address+"/txs")
	if err == nil {
		var txs []esploraAddressTx
		if json.Unmarshal(txBody, &txs) == nil {
			for _, tx := range txs {
				if tx.Status.Confirmed && tx.Status.BlockTime > 0 {
					info.LastActivity = time.Unix(tx.Status.BlockTime, 0).UTC()
					break
				}
			}
		}
	}

	return info, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
