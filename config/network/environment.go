package network

import (
	"errors"
	"fmt"
	"time"

	chainsel "github.com/smartcontractkit/chain-selectors"

	"github.com/chainwire/migrator/deployment"
)

// Launcher selects how the chain of an environment is obtained.
type Launcher string

const (
	// LauncherRPC connects to existing nodes through the configured RPCs.
	LauncherRPC Launcher = "rpc"
	// LauncherSimulated starts an in-process simulated backend.
	LauncherSimulated Launcher = "simulated"
	// LauncherAnvil starts an anvil node in a container.
	LauncherAnvil Launcher = "anvil"
)

// Validate returns an error for unknown launchers.
func (l Launcher) Validate() error {
	switch l {
	case LauncherRPC, LauncherSimulated, LauncherAnvil:
		return nil
	default:
		return fmt.Errorf("unknown launcher %q", l)
	}
}

// Local reports whether the launcher starts its own network.
func (l Launcher) Local() bool {
	return l == LauncherSimulated || l == LauncherAnvil
}

// Environment is a named target network and its deployment policy.
type Environment struct {
	Name            string                     `yaml:"name"`
	Type            deployment.NetworkType     `yaml:"type"`
	ChainSelector   uint64                     `yaml:"chain_selector"`
	Launcher        Launcher                   `yaml:"launcher,omitempty"`
	RPCs            []RPC                      `yaml:"rpcs,omitempty"`
	DefaultAccount  string                     `yaml:"default_account,omitempty"`
	OverwritePolicy deployment.OverwritePolicy `yaml:"overwrite_policy,omitempty"`
	ConfirmTimeout  time.Duration              `yaml:"confirm_timeout,omitempty"`
	ConfirmTick     time.Duration              `yaml:"confirm_tick,omitempty"`
}

// ChainID returns the chain ID of the environment's chain selector.
func (e *Environment) ChainID() (string, error) {
	return chainsel.GetChainIDFromSelector(e.ChainSelector)
}

// Policy returns the declared overwrite policy, or the default for the network type.
func (e *Environment) Policy() deployment.OverwritePolicy {
	if e.OverwritePolicy != "" {
		return e.OverwritePolicy
	}

	return deployment.DefaultOverwritePolicy(e.Type)
}

// LauncherOrDefault returns the declared launcher, defaulting to LauncherRPC.
func (e *Environment) LauncherOrDefault() Launcher {
	if e.Launcher == "" {
		return LauncherRPC
	}

	return e.Launcher
}

// Endpoints returns the preferred endpoint of every RPC, in declaration order.
func (e *Environment) Endpoints() []string {
	urls := make([]string, 0, len(e.RPCs))
	for _, rpc := range e.RPCs {
		if ep := rpc.PreferredEndpoint(); ep != "" {
			urls = append(urls, ep)
		}
	}

	return urls
}

// Validate validates the environment to ensure that all required fields are set.
func (e *Environment) Validate() error {
	if e.Name == "" {
		return errors.New("name is required")
	}

	if e.Type == "" {
		return errors.New("type is required")
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}

	if e.ChainSelector == 0 {
		return errors.New("chain selector is required")
	}

	family, err := chainsel.GetSelectorFamily(e.ChainSelector)
	if err != nil {
		return fmt.Errorf("unknown chain selector %d: %w", e.ChainSelector, err)
	}
	if family != chainsel.FamilyEVM {
		return fmt.Errorf("chain selector %d is in family %s, only %s is supported",
			e.ChainSelector, family, chainsel.FamilyEVM,
		)
	}

	launcher := e.LauncherOrDefault()
	if err = launcher.Validate(); err != nil {
		return err
	}

	if !launcher.Local() && len(e.Endpoints()) == 0 {
		return errors.New("at least one RPC is required")
	}

	if launcher.Local() && e.Type != deployment.NetworkTypeEphemeral {
		return fmt.Errorf("launcher %s requires an %s network", launcher, deployment.NetworkTypeEphemeral)
	}

	if e.OverwritePolicy != "" {
		if err = e.OverwritePolicy.Validate(); err != nil {
			return err
		}
	}

	if e.ConfirmTimeout < 0 || e.ConfirmTick < 0 {
		return errors.New("confirmation durations must not be negative")
	}

	return nil
}

// RPC is an RPC endpoint of an environment.
type RPC struct {
	RPCName            string `yaml:"rpc_name"`
	PreferredURLScheme string `yaml:"preferred_url_scheme,omitempty"`
	HTTPURL            string `yaml:"http_url,omitempty"`
	WSURL              string `yaml:"ws_url,omitempty"`
}

// PreferredEndpoint returns the correct endpoint based on the preferred URL scheme. By default, it
// returns the HTTP URL.
func (rpc *RPC) PreferredEndpoint() string {
	if rpc.PreferredURLScheme == "ws" {
		return rpc.WSURL
	}

	return rpc.HTTPURL
}
