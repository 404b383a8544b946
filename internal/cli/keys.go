package cli

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/scanvault/internal/envelope"
)

// keyFile is the on-disk form of a signing key.
type keyFile struct {
	Algorithm  string `yaml:"algorithm"`
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
}

// KeygenResult is the output of keygen.
type KeygenResult struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"publicKey"`
	Path      string `json:"path"`
}

func (r KeygenResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "wrote %s key to %s\npublic key: %s\n", r.Algorithm, r.Path, r.PublicKey)
	return err
}

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Algorithm string
	Out       string
	Force     bool
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key",
		Long: `Generate a signing key and write it to a YAML key file.

The file holds the private key; keep it out of shared storage.

Example:
  scanvault keygen --out device.key
  scanvault keygen --algorithm es256k --out device.key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Algorithm, "algorithm", "ed25519", "signature algorithm (ed25519|es256k)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "key file to write (required)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing key file")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	signer, err := envelope.Generate(opts.Algorithm)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeKey, "failed to generate key", err)
	}
	if err := writeKeyFile(opts.Out, signer, opts.Force); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeKey, "failed to write key file", err)
	}

	return formatter.Success(KeygenResult{
		Algorithm: signer.Algorithm(),
		PublicKey: base64.StdEncoding.EncodeToString(signer.PublicKey()),
		Path:      opts.Out,
	})
}

func writeKeyFile(path string, signer envelope.Signer, force bool) error {
	data, err := yaml.Marshal(keyFile{
		Algorithm:  signer.Algorithm(),
		PrivateKey: base64.StdEncoding.EncodeToString(signer.PrivateKey()),
		PublicKey:  base64.StdEncoding.EncodeToString(signer.PublicKey()),
	})
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// loadSigner reads a key file written by keygen.
func loadSigner(path string) (envelope.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	if kf.PrivateKey == "" {
		return nil, fmt.Errorf("key file %s: missing private_key", path)
	}
	priv, err := base64.StdEncoding.DecodeString(kf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("key file %s: private_key: %w", path, err)
	}
	signer, err := envelope.ParseSigner(kf.Algorithm, priv)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	if kf.PublicKey != "" {
		pub, err := base64.StdEncoding.DecodeString(kf.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("key file %s: public_key: %w", path, err)
		}
		if !bytes.Equal(pub, signer.PublicKey()) {
			return nil, errors.New("key file " + path + ": public_key does not match private_key")
		}
	}
	return signer, nil
}
