// Package chain wraps go-ethereum's ethclient for deploying and resolving
// escrow contracts.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/veridexhq/veridex/internal/crypto"
)

// EscrowState mirrors the public state of a deployed escrow contract.
type EscrowState struct {
	Question string
	Oracle   common.Address
	Resolved bool
	Outcome  bool
	Deadline time.Time
}

// ClientConfig holds connection and timing parameters for the escrow client.
type ClientConfig struct {
	RPCURL         string
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// EscrowClient deploys escrow contracts and submits their resolutions. All
// transactions are EIP-1559 and signed with the oracle wallet.
type EscrowClient struct {
	eth            *ethclient.Client
	signer         *crypto.Signer
	artifact       *Artifact
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	logger         *slog.Logger
}

// NewEscrowClient dials the RPC endpoint and verifies the chain ID matches
// the signer's.
func NewEscrowClient(ctx context.Context, cfg ClientConfig, signer *crypto.Signer, artifact *Artifact, logger *slog.Logger) (*EscrowClient, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if chainID.Cmp(signer.ChainID()) != 0 {
		eth.Close()
		return nil, fmt.Errorf("chain: rpc chain id %s does not match configured %s", chainID, signer.ChainID())
	}

	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	receiptPoll := cfg.ReceiptPoll
	if receiptPoll <= 0 {
		receiptPoll = 2 * time.Second
	}

	return &EscrowClient{
		eth:            eth,
		signer:         signer,
		artifact:       artifact,
		receiptTimeout: receiptTimeout,
		receiptPoll:    receiptPoll,
		logger:         logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the RPC connection.
func (c *EscrowClient) Close() {
	c.eth.Close()
}

// OracleAddress returns the wallet address used to sign transactions.
func (c *EscrowClient) OracleAddress() common.Address {
	return c.signer.Address()
}

// Deploy creates a new escrow contract for the given market question. It
// blocks until the deployment receipt arrives and returns the contract
// address and the deployment transaction hash.
func (c *EscrowClient) Deploy(ctx context.Context, question string, deadline time.Time, oracle common.Address) (common.Address, string, error) {
	if len(c.artifact.Bytecode) == 0 {
		return common.Address{}, "", fmt.Errorf("chain: artifact has no bytecode")
	}

	ctorArgs, err := c.artifact.ABI.Pack("", question, big.NewInt(deadline.Unix()), oracle)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("chain: pack constructor: %w", err)
	}
	data := append(append([]byte(nil), c.artifact.Bytecode...), ctorArgs...)

	tx, err := c.sendTx(ctx, nil, data)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("chain: deploy: %w", err)
	}

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return common.Address{}, "", fmt.Errorf("chain: deploy receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, "", fmt.Errorf("chain: deploy tx %s reverted", tx.Hash())
	}

	c.logger.InfoContext(ctx, "escrow deployed",
		slog.String("contract", receipt.ContractAddress.Hex()),
		slog.String("tx", tx.Hash().Hex()))

	return receipt.ContractAddress, tx.Hash().Hex(), nil
}

// State reads the public state of a deployed escrow contract.
func (c *EscrowClient) State(ctx context.Context, contract common.Address) (EscrowState, error) {
	var st EscrowState

	if err := c.callView(ctx, contract, "question", &st.Question); err != nil {
		return EscrowState{}, err
	}
	if err := c.callView(ctx, contract, "oracle", &st.Oracle); err != nil {
		return EscrowState{}, err
	}
	if err := c.callView(ctx, contract, "resolved", &st.Resolved); err != nil {
		return EscrowState{}, err
	}
	if err := c.callView(ctx, contract, "outcome", &st.Outcome); err != nil {
		return EscrowState{}, err
	}

	var deadline *big.Int
	if err := c.callView(ctx, contract, "deadline", &deadline); err != nil {
		return EscrowState{}, err
	}
	st.Deadline = time.Unix(deadline.Int64(), 0).UTC()

	return st, nil
}

// SubmitResolution submits the boolean outcome to the contract and waits for
// the receipt. A reverted transaction is an error: the market must not be
// recorded as resolved on the strength of a failed settlement.
func (c *EscrowClient) SubmitResolution(ctx context.Context, contract common.Address, outcome bool) (string, error) {
	data, err := c.artifact.ABI.Pack("resolve", outcome)
	if err != nil {
		return "", fmt.Errorf("chain: pack resolve: %w", err)
	}

	tx, err := c.sendTx(ctx, &contract, data)
	if err != nil {
		return "", fmt.Errorf("chain: submit resolution: %w", err)
	}

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return "", fmt.Errorf("chain: resolution receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("chain: resolution tx %s reverted", tx.Hash())
	}

	c.logger.InfoContext(ctx, "resolution submitted",
		slog.String("contract", contract.Hex()),
		slog.Bool("outcome", outcome),
		slog.String("tx", tx.Hash().Hex()))

	return tx.Hash().Hex(), nil
}

func (c *EscrowClient) callView(ctx context.Context, contract common.Address, method string, out any) error {
	data, err := c.artifact.ABI.Pack(method)
	if err != nil {
		return fmt.Errorf("chain: pack %s: %w", method, err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("chain: call %s on %s: %w", method, contract.Hex(), err)
	}

	results, err := c.artifact.ABI.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("chain: %s returned nothing", method)
	}

	return assignResult(method, results[0], out)
}

func assignResult(method string, val any, out any) error {
	switch dst := out.(type) {
	case *string:
		v, ok := val.(string)
		if !ok {
			return fmt.Errorf("chain: %s returned %T, want string", method, val)
		}
		*dst = v
	case *bool:
		v, ok := val.(bool)
		if !ok {
			return fmt.Errorf("chain: %s returned %T, want bool", method, val)
		}
		*dst = v
	case *common.Address:
		v, ok := val.(common.Address)
		if !ok {
			return fmt.Errorf("chain: %s returned %T, want address", method, val)
		}
		*dst = v
	case **big.Int:
		v, ok := val.(*big.Int)
		if !ok {
			return fmt.Errorf("chain: %s returned %T, want *big.Int", method, val)
		}
		*dst = v
	default:
		return fmt.Errorf("chain: unsupported result type %T for %s", out, method)
	}
	return nil
}

// sendTx builds, signs, and broadcasts an EIP-1559 transaction. to is nil
// for contract creation.
func (c *EscrowClient) sendTx(ctx context.Context, to *common.Address, data []byte) (*types.Transaction, error) {
	from := c.signer.Address()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("tip cap: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	// feeCap = 2*baseFee + tip leaves headroom for two max-increase blocks.
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   to,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit + gasLimit/5,
		To:        to,
		Data:      data,
	})

	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

// waitReceipt polls for the transaction receipt until it lands or the
// receipt timeout elapses.
func (c *EscrowClient) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			c.logger.WarnContext(ctx, "receipt poll failed",
				slog.String("tx", txHash.Hex()),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for tx %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
