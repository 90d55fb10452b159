package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testBlockHash = "0000000000000000000111111111111111111111111111111111111111111111"

func esploraServer(t *testing.T, txCount int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "850123\n")
	})
	mux.HandleFunc("/block-height/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testBlockHash)
	})
	mux.HandleFunc("/block/"+testBlockHash, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"height":850123,"timestamp":1767009600,"tx_count":%d,"previousblockhash":"prev"}`,
			testBlockHash, txCount)
	})
	mux.HandleFunc("/block/"+testBlockHash+"/txs/", func(w http.ResponseWriter, r *http.Request) {
		start := strings.TrimPrefix(r.URL.Path, "/block/"+testBlockHash+"/txs/")
		p2pkScript := "21" + strings.Repeat("03", 33) + "ac"
		var txs []string
		for i := 0; i < esploraTxPageSize; i++ {
			txs = append(txs, fmt.Sprintf(
				`{"txid":"tx-%s-%d","vin":[{"prevout":{"scriptpubkey_address":"sender","value":5000}},{"prevout":null}],"vout":[{"scriptpubkey_address":"receiver","value":4000},{"scriptpubkey":"6a24aa21a9ed","scriptpubkey_address":"","value":900},{"scriptpubkey":%q,"scriptpubkey_address":"","value":2500}]}`,
				start, i, p2pkScript))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(txs, ","))
	})
	mux.HandleFunc("/address/1Watched", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"address":"1Watched","chain_stats":{"funded_txo_sum":7000000000,"spent_txo_sum":2000000000,"tx_count":4}}`)
	})
	mux.HandleFunc("/address/1Watched/txs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"status":{"confirmed":false,"block_time":0}},{"status":{"confirmed":true,"block_time":1767000000}}]`)
	})

	return httptest.NewServer(mux)
}

func TestEsploraLatestHeight(t *testing.T) {
	srv := esploraServer(t, 0)
	defer srv.Close()

	p := NewBlockstreamProvider(srv.URL)
	height, err := p.LatestHeight(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 850123 {
		t.Errorf("expected 850123, got %d", height)
	}
}

func TestEsploraGetBlockPagesTransactions(t *testing.T) {
	srv := esploraServer(t, 60)
	defer srv.Close()

	p := NewMempoolSpaceProvider(srv.URL)
	block, err := p.GetBlock(context.Background(), 850123)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if block.Hash != testBlockHash || block.PrevHash != "prev" {
		t.Errorf("unexpected block identity: %+v", block)
	}
	// 60 announced txs at a page size of 25 means three pages get fetched.
	if len(block.Transactions) != 75 {
		t.Errorf("expected 75 transactions over 3 pages, got %d", len(block.Transactions))
	}

	tx := block.Transactions[0]
	if len(tx.Inputs) != 1 || tx.Inputs[0].Address != "sender" {
		t.Errorf("expected coinbase input skipped, got %+v", tx.Inputs)
	}
	if len(tx.Outputs) != 2 || tx.Outputs[0].Address != "receiver" {
		t.Errorf("expected OP_RETURN output skipped, got %+v", tx.Outputs)
	}
	// The P2PK output has no address; its exposed public key is the identity.
	if tx.Outputs[1].Address != strings.Repeat("03", 33) {
		t.Errorf("expected P2PK output keyed by public key, got %q", tx.Outputs[1].Address)
	}
}

func TestEsploraAddressInfo(t *testing.T) {
	srv := esploraServer(t, 0)
	defer srv.Close()

	p := NewBlockstreamProvider(srv.URL)
	info, err := p.AddressInfo(context.Background(), "1Watched")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info.BalanceSats != 5000000000 {
		t.Errorf("expected funded minus spent balance, got %d", info.BalanceSats)
	}
	if info.TxCount != 4 {
		t.Errorf("expected 4 txs, got %d", info.TxCount)
	}
	if info.LastActivity.Unix() != 1767000000 {
		t.Errorf("expected last activity from newest confirmed tx, got %v", info.LastActivity)
	}
}

func TestEsploraErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusTooManyRequests, ErrKindRateLimit},
		{http.StatusBadGateway, ErrKindNetwork},
		{http.StatusNotFound, ErrKindInvalidResponse},
	}

	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))

		p := NewBlockstreamProvider(srv.URL)
		_, err := p.LatestHeight(context.Background())
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", c.status)
			continue
		}
		pe, ok := err.(*ProviderError)
		if !ok {
			t.Errorf("status %d: expected ProviderError, got %T", c.status, err)
			continue
		}
		if pe.Kind != c.kind {
			t.Errorf("status %d: expected kind %s, got %s", c.status, c.kind, pe.Kind)
		}
	}
}
