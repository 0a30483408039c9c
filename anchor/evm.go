package anchor

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/RemiBp/ProofOrigin/config"
	"github.com/RemiBp/ProofOrigin/logging"
)

const fallbackGasLimit = uint64(60000)

// EVMBackend anchors roots on an EVM chain by sending a zero-value self
// transaction whose calldata is the raw merkle root. Multiple RPC endpoints
// are rotated per call.
type EVMBackend struct {
	clients   []*ethclient.Client
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	chainName string
	rpcIndex  uint64
}

func NewEVMBackend(cfg *config.AnchorConfig) (*EVMBackend, error) {
	if len(cfg.RPCAddrs) == 0 {
		return nil, fmt.Errorf("no rpc address configured for the evm backend")
	}
	clients := make([]*ethclient.Client, 0, len(cfg.RPCAddrs))
	for _, addr := range cfg.RPCAddrs {
		client, err := ethclient.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial rpc %s, err=%v", addr, err)
		}
		clients = append(clients, client)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, err
	}
	return &EVMBackend{
		clients:   clients,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:   big.NewInt(cfg.ChainID),
		chainName: cfg.GetChainName(),
	}, nil
}

func (b *EVMBackend) Name() string {
	return b.chainName
}

func (b *EVMBackend) client() *ethclient.Client {
	next := atomic.AddUint64(&b.rpcIndex, 1)
	return b.clients[next%uint64(len(b.clients))]
}

func (b *EVMBackend) SubmitRoot(ctx context.Context, merkleRoot, signature string) (*SubmitResult, error) {
	data, err := hex.DecodeString(merkleRoot)
	if err != nil {
		return nil, err
	}
	client := b.client()
	nonce, err := client.PendingNonceAt(ctx, b.address)
	if err != nil {
		return nil, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  b.address,
		To:    &b.address,
		Value: common.Big0,
		Data:  data,
	})
	if err != nil {
		logging.Logger.Warningf("failed to estimate gas for anchoring tx, fallback to %d, err=%s", fallbackGasLimit, err.Error())
		gasLimit = fallbackGasLimit
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &b.address,
		Value:    common.Big0,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, err
	}
	if err = client.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"chain":       b.chainName,
		"chain_id":    b.chainID.Int64(),
		"from":        b.address.Hex(),
		"merkle_root": merkleRoot,
		"signature":   signature,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		TxHash:  signedTx.Hash().Hex(),
		Payload: string(payload),
	}, nil
}

func (b *EVMBackend) ConfirmTx(ctx context.Context, txHash string) (bool, error) {
	receipt, err := b.client().TransactionReceipt(ctx, common.HexToHash(txHash))
	if err == ethereum.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, fmt.Errorf("anchoring tx %s reverted", txHash)
	}
	return true, nil
}
