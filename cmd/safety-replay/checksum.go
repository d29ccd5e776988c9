package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-can-safety-gateway/internal/safety/hyundai"
)

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum MESSAGE PAYLOAD",
		Short: "Seal a payload with its message checksum",
		Long: `Checksum writes the profile checksum into PAYLOAD and prints the frame in
candump notation. MESSAGE is a name such as WHL_SPD11 or a hex address
such as 0x386. Messages without a checksum are printed unchanged.`,
		Example: "  safety-replay checksum WHL_SPD11 01C0000000000000",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := resolveAddr(args[0])
			if err != nil {
				return err
			}
			fr, err := parseFrame(fmt.Sprintf("%03X#%s", addr, args[1]))
			if err != nil {
				return err
			}
			hyundai.Seal(&fr)
			fmt.Fprintln(cmd.OutOrStdout(), formatFrame(fr))
			return nil
		},
	}
}

func resolveAddr(s string) (uint32, error) {
	if addr, ok := hyundai.AddrByName(s); ok {
		return addr, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil || n > 0x7FF {
		return 0, fmt.Errorf("unknown message %q", s)
	}
	return uint32(n), nil
}
