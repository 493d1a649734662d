// oracle/ethereum.go
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/playonchain/arena/logger"
)

const guessTheDiceABI = `[
	{"constant":true,"inputs":[{"name":"gameId","type":"string"}],"name":"getPlayers","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"gameId","type":"string"}],"name":"isOpen","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

// EthereumOracle 通过 JSON-RPC 视图调用读取合约名单。
// 加入请求由玩家钱包直接上链，服务端只做开局校验（真实结算不在范围内）。
type EthereumOracle struct {
	client       *ethclient.Client
	abi          abi.ABI
	contractAddr common.Address
	timeout      time.Duration
}

// NewEthereumOracle 连接节点并解析合约ABI
func NewEthereumOracle(rpcURL, contractAddr string, timeout time.Duration) (*EthereumOracle, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connect ethereum client: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(guessTheDiceABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract ABI: %w", err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &EthereumOracle{
		client:       client,
		abi:          parsedABI,
		contractAddr: common.HexToAddress(contractAddr),
		timeout:      timeout,
	}, nil
}

// GetRoster 读取链上已加入的玩家地址
func (o *EthereumOracle) GetRoster(ctx context.Context, gameID string) ([]string, error) {
	output, err := o.callContract(ctx, "getPlayers", gameID)
	if err != nil {
		return nil, err
	}

	var addrs []common.Address
	if err := o.abi.UnpackIntoInterface(&addrs, "getPlayers", output); err != nil {
		return nil, fmt.Errorf("unpack getPlayers: %w", err)
	}

	roster := make([]string, 0, len(addrs))
	for _, a := range addrs {
		roster = append(roster, a.Hex())
	}
	return roster, nil
}

// SubmitJoin 校验游戏在链上仍然开放。实际的加入交易由玩家钱包签名提交，
// 名单变化通过后续 GetRoster 轮询观察到。
func (o *EthereumOracle) SubmitJoin(ctx context.Context, gameID, participant string, guess int) error {
	output, err := o.callContract(ctx, "isOpen", gameID)
	if err != nil {
		return err
	}

	var open bool
	if err := o.abi.UnpackIntoInterface(&open, "isOpen", output); err != nil {
		return fmt.Errorf("unpack isOpen: %w", err)
	}
	if !open {
		return ErrGameClosed
	}

	logger.Log.Infof("chain join accepted: game=%s player=%s", gameID, participant)
	return nil
}

func (o *EthereumOracle) callContract(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	callData, err := o.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msg := ethereum.CallMsg{
		To:   &o.contractAddr,
		Data: callData,
	}

	output, err := o.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", ErrOracleUnavailable, method, err)
	}
	return output, nil
}
