package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/rcliao/chronolock/internal/timelock"
)

var errNoAccount = errors.New("no signing account configured: set CHRONOLOCK_MNEMONIC or pass --simulated")

// requireSigner fails before any work is done when a real deployment could
// never be signed.
func requireSigner(acct *crypto.Account, simulated bool) error {
	if acct == nil && !simulated {
		return errNoAccount
	}
	return nil
}

func loadAccount(phrase string) (*crypto.Account, error) {
	sk, err := mnemonic.ToPrivateKey(strings.TrimSpace(phrase))
	if err != nil {
		return nil, fmt.Errorf("mnemonic: %w", err)
	}
	acct, err := crypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// confirmingSigner signs with acct after the user approves each batch on in.
// assumeYes skips the prompt.
func confirmingSigner(acct *crypto.Account, in io.Reader, out io.Writer, assumeYes bool) timelock.Signer {
	reader := bufio.NewReader(in)
	return func(txns []types.Transaction) ([][]byte, error) {
		if acct == nil {
			return nil, errNoAccount
		}
		if !assumeYes {
			for _, tx := range txns {
				fmt.Fprintf(out, "  %s from %s, fee %d microAlgos, valid rounds %d-%d\n",
					tx.Type, tx.Sender, tx.Fee, tx.FirstValid, tx.LastValid)
			}
			fmt.Fprint(out, "Sign and submit? [y/N] ")
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return nil, timelock.ErrDeclined
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
			default:
				return nil, timelock.ErrDeclined
			}
		}

		signed := make([][]byte, 0, len(txns))
		for _, tx := range txns {
			_, stx, err := crypto.SignTransaction(acct.PrivateKey, tx)
			if err != nil {
				return nil, err
			}
			signed = append(signed, stx)
		}
		return signed, nil
	}
}
