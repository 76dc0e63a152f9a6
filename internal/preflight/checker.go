// Package preflight provides pre-deployment validation checks.
package preflight

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Bidon15/nitro-migrate/internal/plan"
)

// DefaultTimeout is the default timeout for RPC calls.
const DefaultTimeout = 10 * time.Second

// MainnetChainID is Ethereum mainnet.
const MainnetChainID = 1

// CheckName identifies a specific pre-flight check.
type CheckName string

const (
	// CheckRPCReachable verifies the RPC endpoint is reachable.
	CheckRPCReachable CheckName = "rpc_reachable"
	// CheckChainIDMatch verifies the chain ID matches the expected value.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckDeployerBalance verifies the deployer has sufficient funds.
	CheckDeployerBalance CheckName = "deployer_balance"
	// CheckPlaceholderURIs flags "#" base URIs that would be deployed as is.
	CheckPlaceholderURIs CheckName = "placeholder_uris"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    CheckName              `json:"name"`
	Passed  bool                   `json:"passed"`
	Warning bool                   `json:"warning,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PreflightRequest contains the parameters for pre-flight checks.
type PreflightRequest struct {
	RPCURL            string             `json:"rpc_url"`
	ChainID           uint64             `json:"chain_id"`
	DeployerAddress   string             `json:"deployer_address"`
	Placeholders      []plan.Placeholder `json:"placeholders,omitempty"`
	AllowPlaceholders bool               `json:"allow_placeholders"`

	// RequiredFundingETH overrides the network default, e.g. "0.25".
	RequiredFundingETH string `json:"required_funding_eth,omitempty"`
}

// PreflightResponse contains the results of all pre-flight checks.
type PreflightResponse struct {
	OK                 bool          `json:"ok"`
	Checks             []CheckResult `json:"checks"`
	DeployerAddress    string        `json:"deployer_address"`
	RequiredFundingETH string        `json:"required_funding_eth"`
	CurrentBalanceETH  string        `json:"current_balance_eth,omitempty"`
}

// Client is the part of ethclient.Client the checks use.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// DialFunc connects to an RPC endpoint.
type DialFunc func(ctx context.Context, rpcURL string) (Client, error)

func dialEthclient(ctx context.Context, rpcURL string) (Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Checker performs pre-flight validation checks.
type Checker struct {
	timeout time.Duration
	dial    DialFunc
}

// NewChecker creates a new pre-flight checker.
func NewChecker() *Checker {
	return &Checker{
		timeout: DefaultTimeout,
		dial:    dialEthclient,
	}
}

// WithTimeout sets a custom timeout for RPC calls.
func (c *Checker) WithTimeout(timeout time.Duration) *Checker {
	c.timeout = timeout
	return c
}

// WithDialer replaces how the checker connects to the RPC endpoint.
func (c *Checker) WithDialer(dial DialFunc) *Checker {
	c.dial = dial
	return c
}

// RunChecks performs all pre-flight checks and returns the results.
func (c *Checker) RunChecks(ctx context.Context, req *PreflightRequest) (*PreflightResponse, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response := &PreflightResponse{
		OK:              true,
		Checks:          make([]CheckResult, 0, 4),
		DeployerAddress: req.DeployerAddress,
	}

	requiredWei := RequiredFunding(req.ChainID)
	if req.RequiredFundingETH != "" {
		requiredWei, _ = ParseETH(req.RequiredFundingETH)
	}
	response.RequiredFundingETH = weiToETHString(requiredWei)

	// Placeholders do not need the network, so they are reported even when
	// the endpoint is down.
	placeholderResult := c.checkPlaceholderURIs(req)

	client, reachableResult := c.checkRPCReachable(rpcCtx, req.RPCURL)
	response.Checks = append(response.Checks, reachableResult)
	if !reachableResult.Passed {
		response.OK = false
		response.Checks = append(response.Checks, placeholderResult)
		return response, nil
	}
	defer client.Close()

	chainIDResult := c.checkChainIDMatch(rpcCtx, client, req.ChainID)
	response.Checks = append(response.Checks, chainIDResult)
	if !chainIDResult.Passed {
		response.OK = false
	}

	balanceResult := c.checkDeployerBalance(rpcCtx, client, req.DeployerAddress, requiredWei)
	response.Checks = append(response.Checks, balanceResult)
	if !balanceResult.Passed {
		response.OK = false
	}
	if details := balanceResult.Details; details != nil {
		if haveETH, ok := details["have_eth"].(string); ok {
			response.CurrentBalanceETH = haveETH
		}
	}

	response.Checks = append(response.Checks, placeholderResult)
	if !placeholderResult.Passed {
		response.OK = false
	}

	return response, nil
}

// validateRequest validates the pre-flight request parameters.
func (c *Checker) validateRequest(req *PreflightRequest) error {
	if req.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if req.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if req.DeployerAddress == "" {
		return fmt.Errorf("deployer_address is required")
	}
	if !common.IsHexAddress(req.DeployerAddress) {
		return fmt.Errorf("deployer_address is not a valid Ethereum address")
	}
	if req.RequiredFundingETH != "" {
		if _, err := ParseETH(req.RequiredFundingETH); err != nil {
			return fmt.Errorf("required_funding_eth: %w", err)
		}
	}
	return nil
}

// checkRPCReachable verifies the RPC endpoint is reachable.
func (c *Checker) checkRPCReachable(ctx context.Context, rpcURL string) (Client, CheckResult) {
	result := CheckResult{
		Name: CheckRPCReachable,
	}

	client, err := c.dial(ctx, rpcURL)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to connect to RPC: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return nil, result
	}

	if _, err := client.ChainID(ctx); err != nil {
		client.Close()
		result.Message = fmt.Sprintf("RPC connection failed: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return nil, result
	}

	result.Passed = true
	result.Message = "Connected to RPC successfully"
	return client, result
}

// checkChainIDMatch verifies the chain ID matches the expected value.
func (c *Checker) checkChainIDMatch(ctx context.Context, client Client, expectedChainID uint64) CheckResult {
	result := CheckResult{
		Name: CheckChainIDMatch,
	}

	actualChainID, err := client.ChainID(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get chain ID: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return result
	}

	expected := new(big.Int).SetUint64(expectedChainID)
	if actualChainID.Cmp(expected) != 0 {
		result.Message = fmt.Sprintf("Chain ID mismatch: expected %d, got %s", expectedChainID, actualChainID)
		result.Details = map[string]interface{}{
			"expected": expectedChainID,
			"actual":   actualChainID.String(),
		}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Chain ID %d (%s) confirmed", expectedChainID, GetNetworkName(expectedChainID))
	result.Details = map[string]interface{}{
		"chain_id": expectedChainID,
	}
	return result
}

// checkDeployerBalance verifies the deployer has sufficient funds.
func (c *Checker) checkDeployerBalance(ctx context.Context, client Client, deployerAddr string, requiredWei *big.Int) CheckResult {
	result := CheckResult{
		Name: CheckDeployerBalance,
	}

	addr := common.HexToAddress(deployerAddr)
	balance, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get deployer balance: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return result
	}

	haveETH := weiToETHString(balance)
	needETH := weiToETHString(requiredWei)

	result.Details = map[string]interface{}{
		"have_wei": balance.String(),
		"need_wei": requiredWei.String(),
		"have_eth": haveETH,
		"need_eth": needETH,
	}

	if balance.Cmp(requiredWei) < 0 {
		result.Message = fmt.Sprintf("Insufficient deployer balance: have %s ETH, need %s ETH", haveETH, needETH)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Deployer has sufficient balance: %s ETH", haveETH)
	return result
}

// checkPlaceholderURIs fails on mainnet when a "#" base URI would be
// deployed, unless explicitly allowed. Elsewhere it only warns.
func (c *Checker) checkPlaceholderURIs(req *PreflightRequest) CheckResult {
	result := CheckResult{
		Name:   CheckPlaceholderURIs,
		Passed: true,
	}

	if len(req.Placeholders) == 0 {
		result.Message = "No placeholder URIs in plan"
		return result
	}

	locations := make([]string, 0, len(req.Placeholders))
	for _, p := range req.Placeholders {
		locations = append(locations, fmt.Sprintf("%s %s arg %d", p.Migration, p.Contract, p.Arg))
	}
	result.Details = map[string]interface{}{
		"count":     len(req.Placeholders),
		"locations": locations,
	}
	summary := fmt.Sprintf("%d deployment(s) use placeholder URI %q: %s",
		len(req.Placeholders), plan.PlaceholderURI, strings.Join(locations, "; "))

	switch {
	case req.ChainID != MainnetChainID:
		result.Warning = true
		result.Message = summary
	case req.AllowPlaceholders:
		result.Warning = true
		result.Message = summary + " (allowed)"
	default:
		result.Passed = false
		result.Message = summary + "; refusing to deploy to mainnet without --allow-placeholders"
	}
	return result
}

// RequiredFunding returns the required funding in wei based on the network.
func RequiredFunding(chainID uint64) *big.Int {
	switch chainID {
	case MainnetChainID:
		return big.NewInt(1e18)
	default:
		// 0.1 ETH
		return big.NewInt(1e17)
	}
}

// ParseETH converts a decimal ETH amount such as "0.25" to wei. Digits past
// 18 decimals are truncated.
func ParseETH(s string) (*big.Int, error) {
	amount, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%q is not a decimal amount", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%q is negative", s)
	}
	amount.Mul(amount, new(big.Rat).SetInt(big.NewInt(1e18)))
	return new(big.Int).Quo(amount.Num(), amount.Denom()), nil
}

// weiToETHString converts wei to a human-readable ETH string.
func weiToETHString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	weiFloat := new(big.Float).SetInt(wei)
	ethFloat := new(big.Float).Quo(weiFloat, big.NewFloat(1e18))

	return ethFloat.Text('f', 4)
}

// GetNetworkName returns a human-readable name for a chain ID.
func GetNetworkName(chainID uint64) string {
	switch chainID {
	case 1:
		return "Ethereum Mainnet"
	case 11155111:
		return "Sepolia"
	case 17000:
		return "Holesky"
	case 1337, 31337:
		return "Local devnet"
	default:
		return fmt.Sprintf("Chain %d", chainID)
	}
}
