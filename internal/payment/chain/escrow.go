// Package chain 提供基于 EVM 链上转账的资金托管实现。托管采用双地址
// 模型：运营钱包持有待托管资金，金库地址存放托管中的资金，两把私钥
// 都由本服务保管。HoldEscrow 把合同金额从运营钱包转入金库，
// ReleasePayment 从金库转给收款方，RefundEscrow 从金库退回运营钱包。
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"GigFlow/internal/payment"
)

// Config 描述链上托管所需的连接与签名信息。
type Config struct {
	RPCURL string
	// OperatorKey 是运营钱包私钥（hex，不带 0x 前缀）。
	OperatorKey string
	// VaultKey 是金库钱包私钥（hex，不带 0x 前缀）。
	VaultKey string
	// GasLimit 为普通转账的 gas 上限，缺省 21000。
	GasLimit uint64
}

// Provider 通过以太坊兼容链实现资金托管。
type Provider struct {
	eth      *ethclient.Client
	chainID  *big.Int
	signer   coretypes.Signer
	operator *wallet
	vault    *wallet
	gasLimit uint64

	mu    sync.Mutex
	holds map[string]*big.Int
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ payment.Provider = (*Provider)(nil)

// NewProvider 连接链节点并校验两把钱包私钥。
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置链节点 RPC 地址")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链节点失败: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	operator, err := loadWallet(cfg.OperatorKey)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("加载运营钱包失败: %w", err)
	}
	vault, err := loadWallet(cfg.VaultKey)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("加载金库钱包失败: %w", err)
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 21000
	}
	return &Provider{
		eth:      eth,
		chainID:  chainID,
		signer:   coretypes.LatestSignerForChainID(chainID),
		operator: operator,
		vault:    vault,
		gasLimit: gasLimit,
		holds:    make(map[string]*big.Int),
	}, nil
}

func loadWallet(hexKey string) (*wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("未提供钱包私钥")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, err
	}
	return &wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// HoldEscrow 把合同金额从运营钱包转入金库地址。
func (p *Provider) HoldEscrow(ctx context.Context, req payment.EscrowRequest) (*payment.Hold, error) {
	if req.Amount <= 0 {
		return nil, errors.New("托管金额必须大于零")
	}
	amount := toWei(req.Amount)
	txHash, err := p.transfer(ctx, p.operator, p.vault.address, amount)
	if err != nil {
		return nil, fmt.Errorf("托管转账失败: %w", err)
	}

	escrowID := uuid.NewString()
	p.mu.Lock()
	p.holds[escrowID] = amount
	p.mu.Unlock()

	return &payment.Hold{
		EscrowID: escrowID,
		TxRef:    txHash.Hex(),
		Amount:   req.Amount,
		HeldAt:   time.Now().UTC(),
	}, nil
}

// ReleasePayment 从金库把托管资金转给收款方地址。
func (p *Provider) ReleasePayment(ctx context.Context, req payment.ReleaseRequest) (*payment.Release, error) {
	payee := strings.TrimSpace(req.Payee)
	if !common.IsHexAddress(payee) {
		return nil, fmt.Errorf("收款地址不合法: %q", payee)
	}
	amount, err := p.takeHold(req.EscrowID)
	if err != nil {
		return nil, err
	}
	txHash, err := p.transfer(ctx, p.vault, common.HexToAddress(payee), amount)
	if err != nil {
		return nil, fmt.Errorf("放款转账失败: %w", err)
	}
	return &payment.Release{
		PaymentID:  uuid.NewString(),
		TxRef:      txHash.Hex(),
		Amount:     fromWei(amount),
		ReleasedAt: time.Now().UTC(),
	}, nil
}

// RefundEscrow 从金库把托管资金退回运营钱包。托管记录不存在视为
// 已经退过款，保持幂等。
func (p *Provider) RefundEscrow(ctx context.Context, escrowID string) (string, error) {
	amount, err := p.takeHold(escrowID)
	if err != nil {
		return "escrow already settled", nil
	}
	txHash, err := p.transfer(ctx, p.vault, p.operator.address, amount)
	if err != nil {
		// 退款失败要把额度放回去，下次补偿还能重试。
		p.mu.Lock()
		p.holds[escrowID] = amount
		p.mu.Unlock()
		return "", fmt.Errorf("退款转账失败: %w", err)
	}
	return "refund tx " + txHash.Hex(), nil
}

func (p *Provider) takeHold(escrowID string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount, ok := p.holds[escrowID]
	if !ok {
		return nil, fmt.Errorf("托管记录不存在: %s", escrowID)
	}
	delete(p.holds, escrowID)
	return amount, nil
}

func (p *Provider) transfer(ctx context.Context, from *wallet, to common.Address, amount *big.Int) (common.Hash, error) {
	nonce, err := p.eth.PendingNonceAt(ctx, from.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询交易计数失败: %w", err)
	}
	gasPrice, err := p.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询 gas 价格失败: %w", err)
	}
	tx := coretypes.NewTransaction(nonce, to, amount, p.gasLimit, gasPrice, nil)
	signed, err := coretypes.SignTx(tx, p.signer, from.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := p.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("广播交易失败: %w", err)
	}
	return signed.Hash(), nil
}

// VaultBalance 查询金库地址当前余额（单位 ETH），运维巡检用。
func (p *Provider) VaultBalance(ctx context.Context) (float64, error) {
	balance, err := p.eth.BalanceAt(ctx, p.vault.address, nil)
	if err != nil {
		return 0, fmt.Errorf("查询金库余额失败: %w", err)
	}
	return fromWei(balance), nil
}

// Close 断开链节点连接。
func (p *Provider) Close() error {
	if p != nil && p.eth != nil {
		p.eth.Close()
	}
	return nil
}

var weiPerEther = new(big.Float).SetFloat64(1e18)

func toWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(new(big.Float).SetFloat64(amount), weiPerEther).Int(nil)
	return wei
}

func fromWei(wei *big.Int) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	return out
}
