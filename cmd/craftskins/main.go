// Command craftskins operates a crafting ledger configured through
// CRAFTSKINS_CONFIG and CRAFTSKINS_* environment variables.
//
// Usage:
//
//	craftskins [-trace] <command> [flags]
//
// Commands:
//
//	config         print the effective configuration
//	airdrop        credit lamports to an address (-address -lamports)
//	init           create the program manager (-keypair)
//	create-recipe  record a recipe (-keypair -mint -ingredients mint:amount,...)
//	bind-skin      bind a skin and stock its vault (-keypair -recipe -skin -deposit)
//	craft          craft one skin (-keypair -skin)
//	manager        print the program manager
//	recipe         print a recipe (-mint)
//	escrow         print an escrow balance (-mint)
//	snapshot       archive the ledger state (-key)
//	restore        restore archived ledger state (-key)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"craftskins/internal/core"
	"craftskins/internal/craft"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

var (
	exitFunc   = os.Exit
	loadConfig = core.LoadConfig
	openFunc   = core.Open
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("craftskins", flag.ContinueOnError)
	fs.SetOutput(stderr)
	trace := fs.Bool("trace", false, "write operation spans as JSON lines to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "craftskins: missing command")
		return 2
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "craftskins: config: %v\n", err)
		return 1
	}
	command, rest := fs.Arg(0), fs.Args()[1:]
	if command == "config" {
		return report(stderr, printYAML(stdout, cfg))
	}

	var opts []core.ServiceOption
	if *trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	svc, err := openFunc(ctx, cfg, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "craftskins: open: %v\n", err)
		return 1
	}
	defer svc.Close()

	err = dispatch(ctx, svc, command, rest, stdout, stderr)
	if errors.Is(err, errUsage) {
		if err != errUsage {
			fmt.Fprintf(stderr, "craftskins: %v\n", err)
		}
		return 2
	}
	return report(stderr, err)
}

func report(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "craftskins: %v\n", err)
	return 1
}

func dispatch(ctx context.Context, svc *core.Service, command string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	keypair := fs.String("keypair", "", "path to a solana-keygen JSON keypair")
	mint := fs.String("mint", "", "mint address")
	recipe := fs.String("recipe", "", "recipe mint address")
	skin := fs.String("skin", "", "skin mint address")
	ingredients := fs.String("ingredients", "", "comma separated mint:amount pairs")
	deposit := fs.Uint64("deposit", 0, "skin units moved into the vault")
	key := fs.String("key", "", "archive object key")
	address := fs.String("address", "", "account address")
	lamports := fs.Uint64("lamports", 1_000_000_000, "lamports to credit")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	switch command {
	case "airdrop":
		to, err := parseKey("address", *address)
		if err != nil {
			return err
		}
		if err := svc.Ledger().Fund(ctx, to, *lamports); err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "credited %d lamports to %s\n", *lamports, to)
		return err
	case "init":
		signer, err := loadKeypair(*keypair)
		if err != nil {
			return err
		}
		receipt, err := svc.Initialize(ctx, signer)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "initialized manager, administrator %s (%s)\n", signer.PublicKey(), receipt.Signature)
		return err
	case "create-recipe":
		signer, err := loadKeypair(*keypair)
		if err != nil {
			return err
		}
		recipeMint, err := parseKey("mint", *mint)
		if err != nil {
			return err
		}
		mints, amounts, err := parseIngredients(*ingredients)
		if err != nil {
			return err
		}
		created, _, err := svc.CreateRecipe(ctx, signer, core.RecipeRequest{RecipeMint: recipeMint, Mints: mints, Amounts: amounts})
		if err != nil {
			return err
		}
		return printJSON(stdout, recipeView(created))
	case "bind-skin":
		signer, err := loadKeypair(*keypair)
		if err != nil {
			return err
		}
		recipeMint, err := parseKey("recipe", *recipe)
		if err != nil {
			return err
		}
		skinMint, err := parseKey("skin", *skin)
		if err != nil {
			return err
		}
		receipt, err := svc.BindSkin(ctx, signer, core.BindRequest{RecipeMint: recipeMint, SkinMint: skinMint, Deposit: *deposit})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "bound %s to %s (%s)\n", skinMint, recipeMint, receipt.Signature)
		return err
	case "craft":
		signer, err := loadKeypair(*keypair)
		if err != nil {
			return err
		}
		skinMint, err := parseKey("skin", *skin)
		if err != nil {
			return err
		}
		receipt, err := svc.CraftSkin(ctx, signer, skinMint)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "crafted %s for %s (%s)\n", skinMint, signer.PublicKey(), receipt.Signature)
		return err
	case "manager":
		manager, err := svc.ProgramManager()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, manager.Administrator)
		return err
	case "recipe":
		recipeMint, err := parseKey("mint", *mint)
		if err != nil {
			return err
		}
		found, err := svc.Recipe(recipeMint)
		if err != nil {
			return err
		}
		return printJSON(stdout, recipeView(found))
	case "escrow":
		escrowMint, err := parseKey("mint", *mint)
		if err != nil {
			return err
		}
		balance, err := svc.EscrowBalance(escrowMint)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, balance)
		return err
	case "snapshot":
		if *key == "" {
			return fmt.Errorf("%w: -key is required", errUsage)
		}
		info, err := svc.ArchiveSnapshot(ctx, *key)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "archived %s (%d bytes)\n", info.Key, info.Size)
		return err
	case "restore":
		if *key == "" {
			return fmt.Errorf("%w: -key is required", errUsage)
		}
		slot, err := svc.RestoreSnapshot(ctx, *key)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "restored %s captured at slot %d\n", *key, slot)
		return err
	default:
		fmt.Fprintf(stderr, "craftskins: unknown command %q\n", command)
		return errUsage
	}
}

type recipeJSON struct {
	OwnerMint   string           `json:"owner_mint"`
	Ingredients []ingredientJSON `json:"ingredients"`
}

type ingredientJSON struct {
	Mint   string `json:"mint"`
	Amount uint64 `json:"amount"`
}

func recipeView(r craft.Recipe) recipeJSON {
	out := recipeJSON{OwnerMint: r.OwnerMint.String(), Ingredients: []ingredientJSON{}}
	for _, in := range r.Ingredients() {
		out.Ingredients = append(out.Ingredients, ingredientJSON{Mint: in.Mint.String(), Amount: in.Amount})
	}
	return out
}

func loadKeypair(path string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: -keypair is required", errUsage)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("keypair %s: %w", path, err)
	}
	return key, nil
}

func parseKey(name, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("-%s: %w", name, err)
	}
	return key, nil
}

// parseIngredients reads "mint:amount,mint:amount". Order is preserved.
func parseIngredients(value string) ([]solana.PublicKey, []uint64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil, fmt.Errorf("%w: -ingredients is required", errUsage)
	}
	var mints []solana.PublicKey
	var amounts []uint64
	for _, pair := range strings.Split(value, ",") {
		mintStr, amountStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, nil, fmt.Errorf("ingredient %q: want mint:amount", pair)
		}
		mint, err := solana.PublicKeyFromBase58(mintStr)
		if err != nil {
			return nil, nil, fmt.Errorf("ingredient %q: %w", pair, err)
		}
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("ingredient %q: %w", pair, err)
		}
		mints = append(mints, mint)
		amounts = append(amounts, amount)
	}
	return mints, amounts, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
