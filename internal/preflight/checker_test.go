package preflight

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/nitro-migrate/internal/deployer/deployertest"
	"github.com/Bidon15/nitro-migrate/internal/plan"
)

const deployerAddr = "0x1234567890123456789012345678901234567890"

type fakeClient struct {
	*deployertest.Backend
	closed bool
}

func (c *fakeClient) Close() { c.closed = true }

func fakeDialer(client *fakeClient) DialFunc {
	return func(context.Context, string) (Client, error) {
		return client, nil
	}
}

func builtinPlaceholders(t *testing.T) []plan.Placeholder {
	t.Helper()
	p, err := plan.Builtin()
	require.NoError(t, err)
	return p.Placeholders()
}

func TestNewChecker(t *testing.T) {
	checker := NewChecker()
	assert.NotNil(t, checker)
	assert.Equal(t, DefaultTimeout, checker.timeout)
	assert.NotNil(t, checker.dial)
}

func TestChecker_WithTimeout(t *testing.T) {
	checker := NewChecker().WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, checker.timeout)
}

func TestChecker_ValidateRequest(t *testing.T) {
	checker := NewChecker()

	tests := []struct {
		name    string
		req     *PreflightRequest
		wantErr string
	}{
		{
			name: "valid request",
			req: &PreflightRequest{
				RPCURL:          "https://eth-sepolia.example.com",
				ChainID:         11155111,
				DeployerAddress: deployerAddr,
			},
		},
		{
			name: "missing rpc_url",
			req: &PreflightRequest{
				ChainID:         11155111,
				DeployerAddress: deployerAddr,
			},
			wantErr: "rpc_url is required",
		},
		{
			name: "missing chain_id",
			req: &PreflightRequest{
				RPCURL:          "https://eth-sepolia.example.com",
				DeployerAddress: deployerAddr,
			},
			wantErr: "chain_id is required",
		},
		{
			name: "missing deployer_address",
			req: &PreflightRequest{
				RPCURL:  "https://eth-sepolia.example.com",
				ChainID: 11155111,
			},
			wantErr: "deployer_address is required",
		},
		{
			name: "bad required funding",
			req: &PreflightRequest{
				RPCURL:             "https://eth-sepolia.example.com",
				ChainID:            11155111,
				DeployerAddress:    deployerAddr,
				RequiredFundingETH: "-1",
			},
			wantErr: "required_funding_eth",
		},
		{
			name: "invalid deployer_address",
			req: &PreflightRequest{
				RPCURL:          "https://eth-sepolia.example.com",
				ChainID:         11155111,
				DeployerAddress: "not-an-address",
			},
			wantErr: "deployer_address is not a valid Ethereum address",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := checker.validateRequest(tc.req)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestRequiredFunding(t *testing.T) {
	tests := []struct {
		name     string
		chainID  uint64
		expected *big.Int
	}{
		{"mainnet requires 1 ETH", 1, big.NewInt(1e18)},
		{"sepolia requires 0.1 ETH", 11155111, big.NewInt(1e17)},
		{"devnet requires 0.1 ETH", 1337, big.NewInt(1e17)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RequiredFunding(tc.chainID))
		})
	}
}

func TestParseETH(t *testing.T) {
	tests := []struct {
		in      string
		want    *big.Int
		wantErr bool
	}{
		{in: "1", want: big.NewInt(1e18)},
		{in: "0.25", want: big.NewInt(25e16)},
		{in: "0", want: big.NewInt(0)},
		{in: "0.0000000000000000001", want: big.NewInt(0)},
		{in: "-0.5", wantErr: true},
		{in: "lots", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseETH(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, tc.want.Cmp(got), "got %s", got)
		})
	}
}

func TestChecker_RequiredFundingOverride(t *testing.T) {
	backend := deployertest.NewBackend(11155111)
	backend.Fund(common.HexToAddress(deployerAddr), big.NewInt(5e17))
	client := &fakeClient{Backend: backend}
	checker := NewChecker().WithDialer(fakeDialer(client))

	resp, err := checker.RunChecks(context.Background(), &PreflightRequest{
		RPCURL:             "http://sepolia.test",
		ChainID:            11155111,
		DeployerAddress:    deployerAddr,
		RequiredFundingETH: "0.75",
	})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "0.7500", resp.RequiredFundingETH)
	assert.False(t, resp.Checks[2].Passed)

	resp, err = checker.RunChecks(context.Background(), &PreflightRequest{
		RPCURL:             "http://sepolia.test",
		ChainID:            11155111,
		DeployerAddress:    deployerAddr,
		RequiredFundingETH: "0.25",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "0.2500", resp.RequiredFundingETH)
}

func TestWeiToETHString(t *testing.T) {
	tests := []struct {
		name     string
		wei      *big.Int
		expected string
	}{
		{"nil returns 0", nil, "0"},
		{"0 wei", big.NewInt(0), "0.0000"},
		{"1 ETH", big.NewInt(1e18), "1.0000"},
		{"0.1 ETH", big.NewInt(1e17), "0.1000"},
		{"0.1234 ETH", big.NewInt(1234e14), "0.1234"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, weiToETHString(tc.wei))
		})
	}
}

func TestGetNetworkName(t *testing.T) {
	assert.Equal(t, "Ethereum Mainnet", GetNetworkName(1))
	assert.Equal(t, "Sepolia", GetNetworkName(11155111))
	assert.Equal(t, "Local devnet", GetNetworkName(1337))
	assert.Equal(t, "Chain 999999", GetNetworkName(999999))
}

func TestChecker_RunChecks_AllPass(t *testing.T) {
	backend := deployertest.NewBackend(11155111)
	backend.Fund(common.HexToAddress(deployerAddr), big.NewInt(5e17))
	client := &fakeClient{Backend: backend}

	resp, err := NewChecker().WithDialer(fakeDialer(client)).RunChecks(context.Background(), &PreflightRequest{
		RPCURL:          "http://sepolia.test",
		ChainID:         11155111,
		DeployerAddress: deployerAddr,
		Placeholders:    builtinPlaceholders(t),
	})
	require.NoError(t, err)

	assert.True(t, resp.OK)
	require.Len(t, resp.Checks, 4)
	assert.Equal(t, CheckRPCReachable, resp.Checks[0].Name)
	assert.Equal(t, CheckChainIDMatch, resp.Checks[1].Name)
	assert.Equal(t, CheckDeployerBalance, resp.Checks[2].Name)
	assert.Equal(t, CheckPlaceholderURIs, resp.Checks[3].Name)
	assert.True(t, resp.Checks[3].Passed)
	assert.True(t, resp.Checks[3].Warning)
	assert.Equal(t, 4, resp.Checks[3].Details["count"])

	assert.Equal(t, "0.1000", resp.RequiredFundingETH)
	assert.Equal(t, "0.5000", resp.CurrentBalanceETH)
	assert.True(t, client.closed)
}

func TestChecker_RunChecks_Failures(t *testing.T) {
	backend := deployertest.NewBackend(5)
	backend.Fund(common.HexToAddress(deployerAddr), big.NewInt(1e16))
	client := &fakeClient{Backend: backend}

	resp, err := NewChecker().WithDialer(fakeDialer(client)).RunChecks(context.Background(), &PreflightRequest{
		RPCURL:          "http://wrong.test",
		ChainID:         11155111,
		DeployerAddress: deployerAddr,
	})
	require.NoError(t, err)

	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 4)
	assert.True(t, resp.Checks[0].Passed)
	assert.False(t, resp.Checks[1].Passed)
	assert.Contains(t, resp.Checks[1].Message, "expected 11155111, got 5")
	assert.False(t, resp.Checks[2].Passed)
	assert.Contains(t, resp.Checks[2].Message, "Insufficient")
	assert.True(t, resp.Checks[3].Passed)
	assert.False(t, resp.Checks[3].Warning)
}

func TestChecker_PlaceholdersOnMainnet(t *testing.T) {
	placeholders := builtinPlaceholders(t)
	checker := NewChecker()

	blocked := checker.checkPlaceholderURIs(&PreflightRequest{ChainID: MainnetChainID, Placeholders: placeholders})
	assert.False(t, blocked.Passed)
	assert.Contains(t, blocked.Message, "--allow-placeholders")
	assert.Contains(t, blocked.Message, "1_initial_migration NitroCollection arg 6")

	allowed := checker.checkPlaceholderURIs(&PreflightRequest{ChainID: MainnetChainID, Placeholders: placeholders, AllowPlaceholders: true})
	assert.True(t, allowed.Passed)
	assert.True(t, allowed.Warning)
}

func TestChecker_RunChecks_InvalidRequest(t *testing.T) {
	resp, err := NewChecker().RunChecks(context.Background(), &PreflightRequest{
		RPCURL:  "https://eth-sepolia.example.com",
		ChainID: 11155111,
	})
	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "deployer_address is required")
}

func TestChecker_RunChecks_Unreachable(t *testing.T) {
	checker := NewChecker().WithDialer(func(context.Context, string) (Client, error) {
		return nil, errors.New("connection refused")
	})

	resp, err := checker.RunChecks(context.Background(), &PreflightRequest{
		RPCURL:          "http://localhost:1",
		ChainID:         MainnetChainID,
		DeployerAddress: deployerAddr,
		Placeholders:    builtinPlaceholders(t),
	})
	require.NoError(t, err)

	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, CheckRPCReachable, resp.Checks[0].Name)
	assert.False(t, resp.Checks[0].Passed)
	assert.Equal(t, CheckPlaceholderURIs, resp.Checks[1].Name)
	assert.False(t, resp.Checks[1].Passed)
}

func TestCheckName_Constants(t *testing.T) {
	assert.Equal(t, CheckName("rpc_reachable"), CheckRPCReachable)
	assert.Equal(t, CheckName("chain_id_match"), CheckChainIDMatch)
	assert.Equal(t, CheckName("deployer_balance"), CheckDeployerBalance)
	assert.Equal(t, CheckName("placeholder_uris"), CheckPlaceholderURIs)
}
