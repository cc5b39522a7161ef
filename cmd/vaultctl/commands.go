package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cryptovault/vault/internal/handlerapi"
	"github.com/cryptovault/vault/internal/vaultconfig"
	"github.com/cryptovault/vault/internal/vaultcrypto"
	"github.com/cryptovault/vault/internal/vaultops"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Create, open and inspect encrypted vault filesystems",
	}
	root.AddCommand(newCreateCommand(), newOpenCommand(), newStatsCommand())
	return root
}

func newCreateCommand() *cobra.Command {
	var passphrase string
	var cipherCombo string
	cmd := &cobra.Command{
		Use:   "create path",
		Short: "Initialize a new vault at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args[0], passphrase, cipherCombo)
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "vault passphrase")
	cmd.Flags().StringVar(&cipherCombo, "cipher-combo", vaultcrypto.CipherComboSivGcm, "SIV_GCM or SIV_CTRMAC")
	_ = cmd.MarkFlagRequired("passphrase")
	return cmd
}

func newOpenCommand() *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "open path",
		Short: "Open an existing vault and verify it unlocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openVault(cmd.Context(), args[0], passphrase)
			if err != nil {
				return err
			}
			defer h.Close()
			fmt.Println("vault opened:", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "vault passphrase")
	_ = cmd.MarkFlagRequired("passphrase")
	return cmd
}

func newStatsCommand() *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "stats path",
		Short: "Print a vault handle's scheduler and cache statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openVault(cmd.Context(), args[0], passphrase)
			if err != nil {
				return err
			}
			defer h.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(h.Snapshot())
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "vault passphrase")
	_ = cmd.MarkFlagRequired("passphrase")
	return cmd
}

func runCreate(root, passphrase, cipherCombo string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}

	masterKey, err := vaultcrypto.NewMasterKey()
	if err != nil {
		return fmt.Errorf("generate master key: %w", err)
	}
	defer masterKey.Zero()

	keyFile, err := os.Create(filepath.Join(root, vaultconfig.MasterKeyFileName))
	if err != nil {
		return fmt.Errorf("create master key file: %w", err)
	}
	defer keyFile.Close()
	if err := vaultcrypto.MarshalMasterKeyFile(keyFile, masterKey, passphrase); err != nil {
		return fmt.Errorf("write master key file: %w", err)
	}

	keyRef := vaultcrypto.NewKeyRef(masterKey)
	defer keyRef.Release()

	cfg := vaultconfig.New(cipherCombo)
	token, err := vaultconfig.Marshal(cfg, keyRef)
	if err != nil {
		return fmt.Errorf("sign vault config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, vaultconfig.ConfigFileName), token, 0o644); err != nil {
		return fmt.Errorf("write vault config: %w", err)
	}

	cryptor, err := vaultcrypto.NewCryptor(keyRef, cipherCombo)
	if err != nil {
		return fmt.Errorf("init cryptor: %w", err)
	}
	defer cryptor.Close()

	if _, err := vaultops.Create(root, cryptor, cfg.ShorteningThreshold); err != nil {
		return fmt.Errorf("initialize vault root: %w", err)
	}

	fmt.Println("vault created:", root)
	return nil
}

func openVault(ctx context.Context, root, passphrase string) (*handlerapi.Handle, error) {
	keyFile, err := os.Open(filepath.Join(root, vaultconfig.MasterKeyFileName))
	if err != nil {
		return nil, fmt.Errorf("open master key file: %w", err)
	}
	defer keyFile.Close()

	masterKey, err := vaultcrypto.UnmarshalMasterKeyFile(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlock master key: %w", err)
	}
	keyRef := vaultcrypto.NewKeyRef(masterKey)

	tokenBytes, err := os.ReadFile(filepath.Join(root, vaultconfig.ConfigFileName))
	if err != nil {
		keyRef.Release()
		return nil, fmt.Errorf("read vault config: %w", err)
	}
	cfg, err := vaultconfig.Unmarshal(tokenBytes, func(string) (*vaultcrypto.KeyRef, error) {
		return keyRef, nil
	})
	if err != nil {
		keyRef.Release()
		return nil, fmt.Errorf("verify vault config: %w", err)
	}

	cryptor, err := vaultcrypto.NewCryptor(keyRef, cfg.CipherCombo)
	keyRef.Release()
	if err != nil {
		return nil, fmt.Errorf("init cryptor: %w", err)
	}

	vault := vaultops.Open(root, cryptor, cfg.ShorteningThreshold)
	return handlerapi.New(ctx, vault, vaultconfig.DefaultRuntimeConfig()), nil
}
