package timelock

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

const (
	DefaultNodeURL    = "https://testnet-api.algonode.cloud"
	DefaultIndexerURL = "https://testnet-idx.algonode.cloud"
)

// AlgodNode implements Node against an algod REST endpoint.
type AlgodNode struct {
	client *algod.Client
}

// NewAlgodNode connects to the node at address.
func NewAlgodNode(address, token string) (*AlgodNode, error) {
	if address == "" {
		address = DefaultNodeURL
	}
	c, err := algod.MakeClient(address, token)
	if err != nil {
		return nil, fmt.Errorf("algod client: %w", err)
	}
	return &AlgodNode{client: c}, nil
}

func (n *AlgodNode) SuggestedParams(ctx context.Context) (types.SuggestedParams, error) {
	return n.client.SuggestedParams().Do(ctx)
}

func (n *AlgodNode) Compile(ctx context.Context, source string) ([]byte, error) {
	resp, err := n.client.TealCompile([]byte(source)).Do(ctx)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Result)
}

func (n *AlgodNode) SendRawTransaction(ctx context.Context, signed []byte) (string, error) {
	return n.client.SendRawTransaction(signed).Do(ctx)
}

func (n *AlgodNode) WaitForApplication(ctx context.Context, txID string, rounds uint64) (uint64, error) {
	info, err := transaction.WaitForConfirmation(n.client, txID, rounds, ctx)
	if err != nil {
		return 0, err
	}
	return info.ApplicationIndex, nil
}

func (n *AlgodNode) Application(ctx context.Context, appID uint64) (*Application, error) {
	resp, err := n.client.GetApplicationByID(appID).Do(ctx)
	if err != nil {
		return nil, err
	}
	return decodeApplication(resp)
}

func (n *AlgodNode) AccountBalance(ctx context.Context, address string) (uint64, error) {
	acct, err := n.client.AccountInformation(address).Do(ctx)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

func (n *AlgodNode) LastRound(ctx context.Context) (uint64, error) {
	st, err := n.client.Status().Do(ctx)
	if err != nil {
		return 0, err
	}
	return st.LastRound, nil
}

// LatestTimestamp returns the timestamp of the last committed block, the value
// the approval program sees as global LatestTimestamp.
func (n *AlgodNode) LatestTimestamp(ctx context.Context) (time.Time, error) {
	round, err := n.LastRound(ctx)
	if err != nil {
		return time.Time{}, err
	}
	block, err := n.client.Block(round).Do(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(block.TimeStamp, 0).UTC(), nil
}

func decodeApplication(resp models.Application) (*Application, error) {
	app := &Application{
		ID:      resp.Id,
		Creator: resp.Params.Creator,
		Global:  make(map[string]Value, len(resp.Params.GlobalState)),
	}
	for _, kv := range resp.Params.GlobalState {
		key, err := base64.StdEncoding.DecodeString(kv.Key)
		if err != nil {
			continue
		}
		v := Value{Type: ValueType(kv.Value.Type), Uint: kv.Value.Uint}
		if v.Type == ValueBytes {
			b, err := base64.StdEncoding.DecodeString(kv.Value.Bytes)
			if err != nil {
				continue
			}
			v.Bytes = b
		}
		app.Global[string(key)] = v
	}
	return app, nil
}

// AlgoIndexer implements Indexer against an indexer REST endpoint.
type AlgoIndexer struct {
	client *indexer.Client
}

// NewAlgoIndexer connects to the indexer at address.
func NewAlgoIndexer(address, token string) (*AlgoIndexer, error) {
	if address == "" {
		address = DefaultIndexerURL
	}
	c, err := indexer.MakeClient(address, token)
	if err != nil {
		return nil, fmt.Errorf("indexer client: %w", err)
	}
	return &AlgoIndexer{client: c}, nil
}

func (i *AlgoIndexer) CreatedApplications(ctx context.Context, address string) ([]uint64, error) {
	resp, err := i.client.LookupAccountCreatedApplications(address).Do(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(resp.Applications))
	for _, app := range resp.Applications {
		if app.Deleted {
			continue
		}
		ids = append(ids, app.Id)
	}
	return ids, nil
}
