// oracle/oracle.go
package oracle

import (
	"context"
	"errors"
)

// Oracle 链上名单的抽象来源。实现不保证同步终局性：
// SubmitJoin 成功只代表请求被接受，名单以 GetRoster 的返回为准。
type Oracle interface {
	GetRoster(ctx context.Context, gameID string) ([]string, error)
	SubmitJoin(ctx context.Context, gameID, participant string, guess int) error
}

var (
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrGameClosed        = errors.New("game is closed on chain")
)
