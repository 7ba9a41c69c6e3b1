package adapter

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
)

// fixed18 is the 18-fractional scaling factor used throughout (spec.md §3).
var fixed18 = big.NewInt(1_000_000_000_000_000_000)

// MockPriceWalk is a deterministic, seedable random walk used in place of
// math/rand's time-seeded source so dry-run executions stay reproducible
// across runs — unlike order.MockFeed, which reseeds from time.Now().
type MockPriceWalk struct {
	state uint64
}

// NewMockPriceWalk seeds a walk from an explicit seed, never from wall time.
func NewMockPriceWalk(seed uint64) *MockPriceWalk {
	if seed == 0 {
		seed = 1
	}
	return &MockPriceWalk{state: seed}
}

// next returns the next 64-bit state of a xorshift64 generator — cheap,
// dependency-free, and fully deterministic given the same seed sequence.
func (w *MockPriceWalk) next() uint64 {
	w.state ^= w.state << 13
	w.state ^= w.state >> 7
	w.state ^= w.state << 17
	return w.state
}

// stepBps returns a pseudo-random step in [-maxBps, maxBps].
func (w *MockPriceWalk) stepBps(maxBps int64) int64 {
	if maxBps <= 0 {
		return 0
	}
	r := int64(w.next() % uint64(2*maxBps+1))
	return r - maxBps
}

// MockOracle is a deterministic in-memory Oracle keyed by token, walked by
// the keeper's tick clock instead of a background ticker goroutine (per
// spec.md §9's offchain tolerance: "as long as events, invariants, and
// external interfaces match").
type MockOracle struct {
	mu     sync.Mutex
	clk    clock.Clock
	walk   *MockPriceWalk
	prices map[domain.Address]*big.Int
	maxBps int64
	lastAt int64
}

// NewMockOracle seeds every known token at its given starting price.
func NewMockOracle(clk clock.Clock, seed uint64, maxStepBps int64, seedPrices map[domain.Address]*big.Int) *MockOracle {
	prices := make(map[domain.Address]*big.Int, len(seedPrices))
	for tok, p := range seedPrices {
		prices[tok] = new(big.Int).Set(p)
	}
	return &MockOracle{
		clk:    clk,
		walk:   NewMockPriceWalk(seed),
		prices: prices,
		maxBps: maxStepBps,
	}
}

// Price returns the token's current price, advancing it by one random-walk
// step the first time it's queried at a new clock tick.
func (o *MockOracle) Price(_ context.Context, token domain.Address) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clk.Now()
	if now != o.lastAt {
		o.lastAt = now
		tokens := make([]domain.Address, 0, len(o.prices))
		for tok := range o.prices {
			tokens = append(tokens, tok)
		}
		sort.Slice(tokens, func(i, j int) bool { return bytes.Compare(tokens[i][:], tokens[j][:]) < 0 })
		for _, tok := range tokens {
			o.prices[tok] = applyBps(o.prices[tok], o.walk.stepBps(o.maxBps))
		}
	}

	p, ok := o.prices[token]
	if !ok {
		return nil, domain.ErrOracleUnavailable
	}
	return new(big.Int).Set(p), nil
}

// SetPrice pins a token's price directly — used by tests to force specific
// anomaly scenarios without relying on the walk.
func (o *MockOracle) SetPrice(token domain.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[token] = new(big.Int).Set(price)
}

func applyBps(price *big.Int, bps int64) *big.Int {
	delta := new(big.Int).Mul(price, big.NewInt(bps))
	delta.Div(delta, big.NewInt(10000))
	out := new(big.Int).Add(price, delta)
	if out.Sign() <= 0 {
		return big.NewInt(1)
	}
	return out
}

// MockExchange is a deterministic in-memory Exchange. Swaps are quoted off
// an attached Oracle at a fixed fee in basis points and settle instantly
// against an in-memory balance ledger, the offchain analogue of the
// teacher's MockExecutor cash-accounting model.
type MockExchange struct {
	mu       sync.Mutex
	oracle   Oracle
	feeBps   int64
	balances map[domain.Address]map[domain.Address]*big.Int // owner -> token -> balance
}

// NewMockExchange builds an exchange quoting against oracle at feeBps.
func NewMockExchange(oracle Oracle, feeBps int64) *MockExchange {
	return &MockExchange{
		oracle:   oracle,
		feeBps:   feeBps,
		balances: make(map[domain.Address]map[domain.Address]*big.Int),
	}
}

// Credit sets up an initial balance for tests and intent onboarding.
func (x *MockExchange) Credit(owner, token domain.Address, amount *big.Int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensure(owner)
	bal := x.balances[owner][token]
	if bal == nil {
		bal = big.NewInt(0)
	}
	x.balances[owner][token] = new(big.Int).Add(bal, amount)
}

func (x *MockExchange) ensure(owner domain.Address) {
	if x.balances[owner] == nil {
		x.balances[owner] = make(map[domain.Address]*big.Int)
	}
}

// BalanceOf returns the owner's balance of token, defaulting to zero.
func (x *MockExchange) BalanceOf(_ context.Context, owner, token domain.Address) (*big.Int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	bal := x.balances[owner][token]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// Swap quotes amountIn via the oracle's tokenIn/tokenOut prices, applies
// feeBps, and rejects if the quoted amountOut is below minAmountOut — the
// in-memory analogue of a DEX router's minOut slippage guard.
func (x *MockExchange) Swap(ctx context.Context, tokenIn, tokenOut domain.Address, amountIn, minAmountOut *big.Int, poolFee int64, recipient domain.Address) (*big.Int, error) {
	priceIn, err := x.oracle.Price(ctx, tokenIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := x.oracle.Price(ctx, tokenOut)
	if err != nil {
		return nil, err
	}
	if priceOut.Sign() == 0 {
		return nil, domain.ErrSwapFailed
	}

	valueIn := new(big.Int).Mul(amountIn, priceIn)
	amountOut := valueIn.Div(valueIn, priceOut)

	fee := new(big.Int).Mul(amountOut, big.NewInt(x.feeBps))
	fee.Div(fee, big.NewInt(10000))
	amountOut.Sub(amountOut, fee)

	if amountOut.Cmp(minAmountOut) < 0 {
		return nil, domain.ErrSlippageExceeded
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensure(recipient)
	in := x.balances[recipient][tokenIn]
	if in == nil || in.Cmp(amountIn) < 0 {
		return nil, domain.ErrInsufficientBalance
	}
	x.balances[recipient][tokenIn] = new(big.Int).Sub(in, amountIn)
	out := x.balances[recipient][tokenOut]
	if out == nil {
		out = big.NewInt(0)
	}
	x.balances[recipient][tokenOut] = new(big.Int).Add(out, amountOut)

	return amountOut, nil
}
