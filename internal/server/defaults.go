package server

import "github.com/meghal86/smart-stake-sub001/internal/probe"

// defaultWatchlist covers the mainnet routers and aggregators that hold
// the bulk of real-world ERC-20 approvals. Spenders with a label are
// known-good; an allowance toward anything off this list surfaces as an
// unknown spender.
var defaultWatchlist = []probe.WatchedSpender{
	// USDC
	{Token: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Spender: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", Label: "uniswap-v2-router"},
	{Token: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Spender: "0xE592427A0AEce92De3Edee1F18E0157C05861564", Label: "uniswap-v3-router"},
	{Token: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Spender: "0x000000000022D473030F116dDEE9F6B43aC78BA3", Label: "permit2"},
	{Token: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Spender: "0x1111111254EEB25477B68fb85Ed929f73A960582", Label: "1inch-v5"},
	// USDT
	{Token: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Spender: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", Label: "uniswap-v2-router"},
	{Token: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Spender: "0x000000000022D473030F116dDEE9F6B43aC78BA3", Label: "permit2"},
	{Token: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Spender: "0x1111111254EEB25477B68fb85Ed929f73A960582", Label: "1inch-v5"},
	// WETH
	{Token: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Spender: "0xE592427A0AEce92De3Edee1F18E0157C05861564", Label: "uniswap-v3-router"},
	{Token: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Spender: "0x000000000022D473030F116dDEE9F6B43aC78BA3", Label: "permit2"},
	// DAI
	{Token: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Spender: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", Label: "uniswap-v2-router"},
	{Token: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Spender: "0x000000000022D473030F116dDEE9F6B43aC78BA3", Label: "permit2"},
}

// defaultMixerRegistry seeds the mixer probe with the sanctioned Tornado
// Cash deployment on mainnet. Refreshed from sanctions feeds at runtime
// via UpdateRegistry.
var defaultMixerRegistry = map[string]string{
	"0x722122dF12D4e14e13Ac3b6895a86e84145b6967": "tornado-cash-proxy",
	"0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b": "tornado-cash-router",
	"0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc": "tornado-cash-0.1-eth",
	"0x47CE0C6eD5B0Ce3d3A51fdb1C52DC66a7c3c2936": "tornado-cash-1-eth",
	"0x910Cbd523D972eb0a6f4cAe4618aD62622b39DbF": "tornado-cash-10-eth",
	"0xA160cdAB225685dA1d56aa342Ad8841c3b53f291": "tornado-cash-100-eth",
}
