package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"fcbridge/pkg/protocol"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Identify one datagram by its size and print it as JSON",
		Long: `decode joins its arguments into one hex string (whitespace, colons and a
leading 0x are ignored, so diagnostic hex dumps paste back unchanged),
identifies the datagram by its exact size and decodes it exactly.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseHex(strings.Join(args, ""))
			if err != nil {
				return usageError{fmt.Errorf("parse hex: %w", err)}
			}
			out, err := decodeDatagram(payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ':' {
			return -1
		}
		return r
	}, s)
	return hex.DecodeString(s)
}

type decodedDatagram struct {
	Kind   string `json:"kind"`
	Size   int    `json:"size"`
	Packet any    `json:"packet"`
}

func decodeDatagram(payload []byte) ([]byte, error) {
	kind, pkt, err := protocol.ParsePacket(payload)
	if err != nil {
		return nil, fmt.Errorf("%s datagram of %d bytes: %w", kind, len(payload), err)
	}
	return json.MarshalIndent(decodedDatagram{
		Kind:   kind.String(),
		Size:   len(payload),
		Packet: pkt,
	}, "", "  ")
}
