package auth

import (
	xerrors "SwarmQuarry/internal/errors"
)

// Caller 描述发起请求的 turtle 或操作者。
type Caller struct {
	// Address 是解析后的客户端地址，作为 IP 锁的比较依据。
	Address string
	Token   string
}

var (
	// ErrInvalidToken 表示共享口令缺失或不匹配。
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthorized, "invalid token")
	// ErrIPMismatch 表示调用方地址与 swarm 创建者地址不一致。
	ErrIPMismatch = xerrors.New(xerrors.CodeForbidden, "ip mismatch")
)
