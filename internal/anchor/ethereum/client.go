package ethereum

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"Sigha-Chain/internal/anchor"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible anchoring client.
type Config struct {
	Name          string
	RPCURL        string
	AnchorAddress string
	KeyHex        string
	Notes         string
}

// Client implements the anchor.Client interface for EVM compatible chains.
// Seal anchors ride in the calldata of a plain value-zero transaction sent
// to the configured anchor address.
type Client struct {
	name       string
	notes      string
	rpcClient  *gethrpc.Client
	eth        *ethclient.Client
	backend    bind.ContractBackend
	chainID    *big.Int
	key        *ecdsa.PrivateKey
	anchorAddr common.Address
	mu         sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
	}
	if addr := strings.TrimSpace(cfg.AnchorAddress); addr != "" {
		client.anchorAddr = common.HexToAddress(addr)
	}
	if keyHex := strings.TrimSpace(cfg.KeyHex); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("解析锚定私钥失败: %w", err)
		}
		client.key = key
	}
	return client, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(name string, chainID *big.Int, key *ecdsa.PrivateKey, anchorAddr common.Address, backend *backends.SimulatedBackend) *Client {
	return &Client{
		name:       name,
		backend:    backend,
		chainID:    new(big.Int).Set(chainID),
		key:        key,
		anchorAddr: anchorAddr,
		notes:      "simulated backend",
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (anchor.ChainSnapshot, error) {
	if c == nil {
		return anchor.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	if c.eth != nil {
		chainID, err := c.eth.ChainID(ctx)
		if err != nil {
			return anchor.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		blockNumber, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return anchor.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
		}
		return anchor.ChainSnapshot{
			ChainID:     fmt.Sprintf("0x%x", chainID),
			BlockNumber: fmt.Sprintf("0x%x", blockNumber),
			Notes:       c.notes,
		}, nil
	}
	if c.chainID == nil {
		return anchor.ChainSnapshot{}, errors.New("未配置链 ID")
	}
	return anchor.ChainSnapshot{
		ChainID: fmt.Sprintf("0x%x", c.chainID),
		Notes:   c.notes,
	}, nil
}

// AnchorSeal submits a transaction whose calldata carries the seal anchor.
func (c *Client) AnchorSeal(ctx context.Context, sessionID string, anchorDigest [sha256.Size]byte) (anchor.Receipt, error) {
	if c == nil || c.backend == nil {
		return anchor.Receipt{}, errors.New("未初始化的以太坊客户端")
	}
	if c.key == nil {
		return anchor.Receipt{}, errors.New("未配置锚定私钥")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return anchor.Receipt{}, err
	}

	from := crypto.PubkeyToAddress(c.key.PublicKey)
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("获取 gas price 失败: %w", err)
	}

	data := make([]byte, 0, sha256.Size+len(sessionID))
	data = append(data, anchorDigest[:]...)
	data = append(data, []byte(sessionID)...)

	gasLimit, err := c.backend.EstimateGas(ctx, ethereumCallMsg(from, c.anchorAddr, data))
	if err != nil {
		// 某些节点拒绝为纯数据交易估算 gas，退回保守上限。
		gasLimit = 21000 + uint64(len(data))*68
	}

	tx := coretypes.NewTransaction(nonce, c.anchorAddr, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("签名锚定交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return anchor.Receipt{}, fmt.Errorf("提交锚定交易失败: %w", err)
	}

	return anchor.Receipt{
		TxHash:  signed.Hash().Hex(),
		ChainID: fmt.Sprintf("0x%x", chainID),
	}, nil
}

func ethereumCallMsg(from, to common.Address, data []byte) gethcore.CallMsg {
	return gethcore.CallMsg{From: from, To: &to, Data: data}
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}
	if c.eth == nil {
		return nil, errors.New("未配置链 ID")
	}
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = chainID
	return chainID, nil
}
