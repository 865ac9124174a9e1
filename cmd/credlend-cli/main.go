package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"credlend/crypto"
)

const usage = `credlend-cli manages operator keys and derived protocol addresses.

Usage:
  credlend-cli keygen --out <path>        generate a key and write a keystore file
  credlend-cli addr --keystore <path>     print the address for a keystore file
  credlend-cli treasury-addr              print the derived treasury vault address
  credlend-cli collateral-addr <address>  print a borrower's derived collateral vault address
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "addr":
		err = runAddr(os.Args[2:])
	case "treasury-addr":
		fmt.Println(crypto.DeriveVaultAddress([]byte("credlend/treasury")).String())
	case "collateral-addr":
		err = runCollateralAddr(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "keystore.json", "destination keystore file")
	_ = fs.Parse(args)

	passphrase, err := readPassphrase(true)
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, passphrase); err != nil {
		return err
	}
	fmt.Println("address:", key.PubKey().Address().String())
	fmt.Println("keystore:", *out)
	return nil
}

func runAddr(args []string) error {
	fs := flag.NewFlagSet("addr", flag.ExitOnError)
	path := fs.String("keystore", "keystore.json", "keystore file to inspect")
	_ = fs.Parse(args)

	passphrase, err := readPassphrase(false)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*path, passphrase)
	if err != nil {
		return err
	}
	fmt.Println(key.PubKey().Address().String())
	return nil
}

func runCollateralAddr(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("collateral-addr expects exactly one borrower address")
	}
	borrower, err := crypto.DecodeAddress(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(crypto.DeriveVaultAddress([]byte("credlend/collateral"), borrower.Bytes()).String())
	return nil
}

func readPassphrase(confirm bool) (string, error) {
	fmt.Fprint(os.Stderr, "passphrase: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if confirm {
		fmt.Fprint(os.Stderr, "confirm passphrase: ")
		second, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}
