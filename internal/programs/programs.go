// Package programs wires the built-in programs into a ledger.
package programs

import (
	"craftskins/internal/craft"
	"craftskins/internal/ledger"
	"craftskins/internal/programs/metadata"
	"craftskins/internal/programs/system"
	"craftskins/internal/programs/token"

	"github.com/gagliardetto/solana-go"
)

// Install registers the system, token, associated token, metadata and
// crafting programs. A zero craftID deploys the crafting program at
// craft.DefaultProgramID. The crafting program is returned.
func Install(l *ledger.Ledger, craftID solana.PublicKey) *craft.Program {
	if craftID.IsZero() {
		craftID = craft.DefaultProgramID
	}
	program := craft.NewProgram(craftID)
	l.Register(
		system.New(),
		token.New(),
		token.NewAssociated(),
		metadata.New(),
		program,
	)
	return program
}
