//go:build !linux

package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

var ErrUnsupported = errors.New("socketcan requires linux")

func Open(string, uint8) (Dev, error) { return nil, ErrUnsupported }

type TXWriter struct{}

func NewTXWriter(context.Context, uint8, Dev, int) *TXWriter { return &TXWriter{} }

func (*TXWriter) SendFrame(can.Frame) error { return ErrUnsupported }

func (*TXWriter) Close() {}
