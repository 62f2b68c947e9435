package ops

import (
	"context"
	"slices"

	"github.com/hpungsan/convoset/internal/codec"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/store"
)

// CryptInput contains parameters for EncryptDataset and DecryptDataset.
type CryptInput struct {
	Name       string
	Passphrase string
}

// CryptOutput reports how many Turns were rewritten and how many were left
// alone because they were already in the target form.
type CryptOutput struct {
	Name      string `json:"name"`
	Rewritten int    `json:"rewritten"`
	Skipped   int    `json:"skipped"`
}

// EncryptDataset replaces every plain Turn text with a codec token.
// Texts that already look like tokens are skipped, so running it twice does
// not double-encrypt.
func EncryptDataset(ctx context.Context, st store.Store, input CryptInput) (*CryptOutput, error) {
	return rewriteTexts(ctx, st, input, func(text string) (string, bool, error) {
		if codec.LooksEncrypted(text) {
			return text, false, nil
		}
		token, err := codec.Encrypt(text, input.Passphrase)
		return token, true, err
	})
}

// DecryptDataset reverses EncryptDataset. If any token fails to decrypt the
// whole operation fails with DECODE_ERROR and nothing is written.
func DecryptDataset(ctx context.Context, st store.Store, input CryptInput) (*CryptOutput, error) {
	return rewriteTexts(ctx, st, input, func(text string) (string, bool, error) {
		if !codec.LooksEncrypted(text) {
			return text, false, nil
		}
		plain, err := codec.Decrypt(text, input.Passphrase)
		return plain, true, err
	})
}

func rewriteTexts(ctx context.Context, st store.Store, input CryptInput, fn func(string) (string, bool, error)) (*CryptOutput, error) {
	if err := dataset.ValidateName(input.Name); err != nil {
		return nil, err
	}
	if input.Passphrase == "" {
		return nil, errors.NewValidation("passphrase is required")
	}

	out := &CryptOutput{Name: input.Name}
	_, err := st.Update(ctx, input.Name, func(blocks []dataset.Block) ([]dataset.Block, error) {
		out.Rewritten, out.Skipped = 0, 0
		next := slices.Clone(blocks)
		for i := range next {
			changed := false
			rewritten, skipped := 0, 0
			err := next[i].MapText(func(text string) (string, error) {
				result, did, err := fn(text)
				if did {
					changed = true
					rewritten++
				} else {
					skipped++
				}
				return result, err
			})
			if err != nil {
				return nil, err
			}
			if !changed {
				// Keep the original bytes of Blocks with nothing to rewrite.
				next[i] = blocks[i]
			}
			out.Rewritten += rewritten
			out.Skipped += skipped
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
