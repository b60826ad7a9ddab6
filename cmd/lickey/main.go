// Command lickey issues and inspects license artifacts. It is an operator
// tool: the secrets passed here must match the deployed installation's
// configuration or the artifact will be rejected there.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"seatlock/internal/codec"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "issue":
		err = issue(os.Args[2:])
	case "inspect":
		err = inspect(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "lickey:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  lickey issue   -secret S -signing-secret G -client-id ID -tier TIER [flags]
  lickey inspect -secret S -signing-secret G -artifact ARTIFACT`)
}

func issue(args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	secret := fs.String("secret", os.Getenv("SEATLOCK_LICENSING_SECRET"), "artifact encryption secret")
	signingSecret := fs.String("signing-secret", os.Getenv("SEATLOCK_LICENSING_SIGNING_SECRET"), "artifact signing secret")
	clientID := fs.String("client-id", "", "client identifier")
	clientName := fs.String("client-name", "", "client display name")
	tier := fs.String("tier", "basic", "license tier: basic, pro or enterprise")
	features := fs.String("features", "", "comma-separated explicit feature grants")
	validFor := fs.Duration("valid-for", 365*24*time.Hour, "validity period from now")
	maxEmployees := fs.Int("max-employees", codec.UnlimitedEmployees, "employee cap, -1 for unlimited")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *clientID == "" {
		return fmt.Errorf("-client-id is required")
	}

	c, err := codec.New(*secret, *signingSecret)
	if err != nil {
		return err
	}

	payload := &codec.Payload{
		ClientID:       *clientID,
		ClientName:     *clientName,
		Tier:           strings.ToLower(*tier),
		Features:       splitFeatures(*features),
		ExpiresAt:      time.Now().UTC().Add(*validFor),
		MaxEmployees:   *maxEmployees,
		InstallationID: uuid.NewString(),
		IssuedAt:       time.Now().UTC(),
	}
	payload.Checksum = payload.ComputeChecksum()

	artifact, err := c.Encode(payload)
	if err != nil {
		return err
	}

	fmt.Println(artifact)
	return nil
}

func inspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	secret := fs.String("secret", os.Getenv("SEATLOCK_LICENSING_SECRET"), "artifact encryption secret")
	signingSecret := fs.String("signing-secret", os.Getenv("SEATLOCK_LICENSING_SIGNING_SECRET"), "artifact signing secret")
	artifact := fs.String("artifact", "", "artifact to decode")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *artifact == "" {
		return fmt.Errorf("-artifact is required")
	}

	c, err := codec.New(*secret, *signingSecret)
	if err != nil {
		return err
	}

	payload, err := c.Decode(*artifact)
	if err != nil {
		return err
	}

	out := struct {
		*codec.Payload
		SecurityLevel codec.SecurityLevel `json:"security_level"`
	}{payload, payload.SecurityLevel}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func splitFeatures(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
