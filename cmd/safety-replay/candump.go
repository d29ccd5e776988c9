package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

// errUnsupported marks records that are valid candump but carry no classic
// data frame (remote and CAN FD frames).
var errUnsupported = errors.New("unsupported frame type")

// record is one line of a candump -l log.
type record struct {
	ts    time.Time
	iface string
	frame can.Frame
}

// parseRecord parses "(1436509052.249713) can0 123#DEADBEEF".
func parseRecord(line string) (record, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return record{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return record{}, err
	}
	fr, err := parseFrame(fields[2])
	if err != nil {
		return record{}, err
	}
	return record{ts: ts, iface: fields[1], frame: fr}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if len(s) < 3 || s[0] != '(' || s[len(s)-1] != ')' {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	secStr, fracStr, _ := strings.Cut(s[1:len(s)-1], ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	if len(fracStr) > 6 {
		fracStr = fracStr[:6]
	}
	var usec int64
	if fracStr != "" {
		usec, err = strconv.ParseInt(fracStr+strings.Repeat("0", 6-len(fracStr)), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
		}
	}
	return time.Unix(sec, usec*1000), nil
}

// parseFrame parses "ID#DATA" in candump notation.
func parseFrame(s string) (can.Frame, error) {
	idStr, dataStr, ok := strings.Cut(s, "#")
	if !ok {
		return can.Frame{}, fmt.Errorf("bad frame %q", s)
	}
	if strings.HasPrefix(dataStr, "#") || strings.HasPrefix(dataStr, "R") {
		return can.Frame{}, errUnsupported
	}
	if len(idStr) != 3 && len(idStr) != 8 {
		return can.Frame{}, fmt.Errorf("bad id %q", idStr)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return can.Frame{}, fmt.Errorf("bad id %q: %w", idStr, err)
	}
	data, err := hex.DecodeString(strings.ReplaceAll(dataStr, ".", ""))
	if err != nil {
		return can.Frame{}, fmt.Errorf("bad data %q: %w", dataStr, err)
	}
	if len(data) > 8 {
		return can.Frame{}, fmt.Errorf("data %q longer than 8 bytes", dataStr)
	}
	fr := can.New(0, uint32(id)&can.CAN_EFF_MASK, data...)
	if len(idStr) == 8 {
		fr.CANID |= can.CAN_EFF_FLAG
	}
	return fr, nil
}

// formatFrame renders fr in candump notation.
func formatFrame(fr can.Frame) string {
	id := fmt.Sprintf("%03X", fr.Addr())
	if fr.CANID&can.CAN_EFF_FLAG != 0 {
		id = fmt.Sprintf("%08X", fr.Addr())
	}
	return id + "#" + strings.ToUpper(hex.EncodeToString(fr.Data[:fr.Len]))
}
