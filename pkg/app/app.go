// Package app assembles one deployment of the lending market, the
// settlement engine and both leverage directions on a ledger, and runs every
// user-facing call as its own ledger transaction.
package app

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlever/params"
	"github.com/uhyunpark/hyperlever/pkg/crypto"
	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
	"github.com/uhyunpark/hyperlever/pkg/join"
	"github.com/uhyunpark/hyperlever/pkg/leverage"
	"github.com/uhyunpark/hyperlever/pkg/metrics"
	"github.com/uhyunpark/hyperlever/pkg/pool"
	"github.com/uhyunpark/hyperlever/pkg/settlement"
	"github.com/uhyunpark/hyperlever/pkg/state"
	"github.com/uhyunpark/hyperlever/pkg/token"
	"github.com/uhyunpark/hyperlever/pkg/util"
	"github.com/uhyunpark/hyperlever/pkg/whitelist"
)

// Deployment nonces of the deployer, in deployment order.
const (
	nonceBase uint64 = iota
	nonceCollateral
	nonceWhitelist
	noncePool
	nonceJoin
	nonceEngine
	nonceLeverager
	nonceDeleverager
)

type Options struct {
	Deployer common.Address
	ChainID  uint64
	Market   params.Market
	Clock    util.Clock
	Logger   *zap.Logger
	Metrics  *metrics.LeverageMetrics
}

type App struct {
	DB       *state.DB
	Deployer common.Address
	Market   uint8

	Base        *token.Token
	Collateral  *token.Token
	Tokens      *token.Directory
	Whitelist   *whitelist.Whitelist
	Pool        *pool.Pool
	Join        *join.GemJoin
	Engine      *settlement.Engine
	Leverager   *leverage.Leverager
	Deleverager *leverage.Deleverager

	market params.Market
	logger *zap.Logger
}

// ContractAddress is the address the deployer's nonce-th contract lives at.
func ContractAddress(deployer common.Address, nonce uint64) common.Address {
	return gethcrypto.CreateAddress(deployer, nonce)
}

// New wires every contract to its deterministic address and points the
// ledger's block time at opts.Clock (wall time when nil). It does not touch
// the ledger's contents; call Bootstrap once the app is built.
func New(db *state.DB, opts Options) (*App, error) {
	db.SetClock(opts.Clock)
	logger := util.OrNop(opts.Logger)
	at := func(nonce uint64) common.Address { return ContractAddress(opts.Deployer, nonce) }

	a := &App{
		DB:       db,
		Deployer: opts.Deployer,
		Market:   opts.Market.Index,
		market:   opts.Market,
		logger:   logger,
	}
	a.Base = token.New(at(nonceBase), "WETH", 18, opts.Deployer)
	a.Collateral = token.New(at(nonceCollateral), "wstETH", 18, opts.Deployer)
	a.Whitelist = whitelist.New(at(nonceWhitelist), opts.Deployer)
	a.Pool = pool.New(at(noncePool), opts.Deployer, a.Base, a.Whitelist)
	a.Join = join.New(at(nonceJoin), a.Market, a.Collateral, a.Pool)

	a.Tokens = token.NewDirectory()
	a.Engine = settlement.NewEngine(at(nonceEngine), crypto.Domain{
		Name:              "Seaport",
		Version:           "1.5",
		ChainID:           new(big.Int).SetUint64(opts.ChainID),
		VerifyingContract: at(nonceEngine),
	}, a.Tokens, logger.Named("settlement"))

	cfg := leverage.Config{
		Market:     a.Market,
		Pool:       a.Pool,
		Join:       a.Join,
		Engine:     a.Engine,
		Whitelist:  a.Whitelist,
		Collateral: a.Collateral,
		Base:       a.Base,
		Logger:     logger.Named("leverage"),
		Metrics:    opts.Metrics,
	}
	var err error
	if a.Leverager, err = leverage.NewLeverager(at(nonceLeverager), cfg); err != nil {
		return nil, err
	}
	if a.Deleverager, err = leverage.NewDeleverager(at(nonceDeleverager), cfg); err != nil {
		return nil, err
	}

	registrations := []struct {
		addr common.Address
		t    token.Transferrer
	}{
		{a.Base.Address, a.Base},
		{a.Collateral.Address, a.Collateral},
		{a.Leverager.Address, a.Leverager},
		{a.Deleverager.Address, a.Deleverager},
	}
	for _, r := range registrations {
		if err := a.Tokens.Register(r.addr, r.t); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Bootstrap initializes the market, both leverage directions and the seed
// liquidity on a fresh ledger. On a ledger that already holds the market it
// does nothing.
func (a *App) Bootstrap() error {
	var fresh bool
	if err := a.DB.View(func(tx *state.Tx) error {
		_, err := a.Pool.Market(tx, a.Market)
		if errors.Is(err, pool.ErrUnknownMarket) {
			fresh = true
			return nil
		}
		return err
	}); err != nil {
		return err
	}
	if !fresh {
		a.logger.Info("bootstrap_skipped", zap.Uint8("market", a.Market))
		return nil
	}

	m := a.market
	deployer := a.Deployer
	err := a.DB.Execute(func(tx *state.Tx) error {
		steps := []struct {
			name string
			run  func() error
		}{
			{"initialize_market", func() error {
				return a.Pool.InitializeMarket(tx, deployer, pool.MarketConfig{
					Index:         m.Index,
					Collateral:    a.Collateral.Address,
					Join:          a.Join.Address,
					RatePerSecond: m.RatePerSecond,
					Spot:          m.Spot,
					DebtCeiling:   m.DebtCeiling,
				})
			}},
			{"set_whitelist_root", func() error { return a.Whitelist.SetRoot(tx, deployer, m.Index, m.WhitelistRoot) }},
			{"initialize_leverager", func() error { return a.Leverager.Initialize(tx) }},
			{"initialize_deleverager", func() error { return a.Deleverager.Initialize(tx) }},
			{"whitelist_leverager", func() error { return a.Whitelist.ApproveProtocolWhitelist(tx, deployer, a.Leverager.Address) }},
			{"whitelist_deleverager", func() error {
				return a.Whitelist.ApproveProtocolWhitelist(tx, deployer, a.Deleverager.Address)
			}},
			{"seed_liquidity", func() error { return a.seed(tx, m.SeedLiquidity) }},
		}
		for _, s := range steps {
			if err := s.run(); err != nil {
				return fmt.Errorf("bootstrap %s: %w", s.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Info("bootstrap_complete",
		zap.Uint8("market", a.Market),
		zap.String("pool", a.Pool.Address.Hex()),
		zap.String("engine", a.Engine.Address.Hex()),
		zap.String("leverager", a.Leverager.Address.Hex()),
		zap.String("deleverager", a.Deleverager.Address.Hex()))
	return nil
}

func (a *App) seed(tx *state.Tx, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := a.Base.Mint(tx, a.Deployer, a.Deployer, amount); err != nil {
		return err
	}
	if err := a.Base.Approve(tx, a.Deployer, a.Pool.Address, amount); err != nil {
		return err
	}
	return a.Pool.Supply(tx, a.Deployer, amount)
}

// Leverage runs Leverager.Leverage for caller in one transaction.
func (a *App) Leverage(caller common.Address, order *settlement.Order, initialDeposit, resultingAdditionalCollateral, amountToBorrow *uint256.Int, proof []common.Hash) error {
	return a.DB.Execute(func(tx *state.Tx) error {
		return a.Leverager.Leverage(tx, caller, order, initialDeposit, resultingAdditionalCollateral, amountToBorrow, proof)
	})
}

// Deleverage runs Deleverager.Deleverage for caller in one transaction.
func (a *App) Deleverage(caller common.Address, order *settlement.Order, collateralToRemove, debtToRepay *uint256.Int) error {
	return a.DB.Execute(func(tx *state.Tx) error {
		return a.Deleverager.Deleverage(tx, caller, order, collateralToRemove, debtToRepay)
	})
}

// Setup grants what a borrower must grant before either direction can act
// for them: the leverager may pull their deposit, and both directions are
// pool operators on their vault.
func (a *App) Setup(caller common.Address) error {
	return a.DB.Execute(func(tx *state.Tx) error {
		if err := a.Collateral.Approve(tx, caller, a.Leverager.Address, fixedpoint.Max()); err != nil {
			return err
		}
		if err := a.Pool.AddOperator(tx, caller, a.Leverager.Address); err != nil {
			return err
		}
		return a.Pool.AddOperator(tx, caller, a.Deleverager.Address)
	})
}

// ApproveEngine lets the settlement engine move both tokens for a
// counterparty.
func (a *App) ApproveEngine(caller common.Address) error {
	return a.DB.Execute(func(tx *state.Tx) error {
		if err := a.Base.Approve(tx, caller, a.Engine.Address, fixedpoint.Max()); err != nil {
			return err
		}
		return a.Collateral.Approve(tx, caller, a.Engine.Address, fixedpoint.Max())
	})
}

// Faucet mints devnet balances of both tokens to to.
func (a *App) Faucet(to common.Address, base, collateral *uint256.Int) error {
	return a.DB.Execute(func(tx *state.Tx) error {
		if base != nil && !base.IsZero() {
			if err := a.Base.Mint(tx, a.Deployer, to, base); err != nil {
				return err
			}
		}
		if collateral != nil && !collateral.IsZero() {
			if err := a.Collateral.Mint(tx, a.Deployer, to, collateral); err != nil {
				return err
			}
		}
		return nil
	})
}

// VaultView is a vault snapshot at the current rate.
type VaultView struct {
	Collateral     *uint256.Int
	NormalizedDebt *uint256.Int
	Debt           *uint256.Int
	Gem            *uint256.Int
	Rate           *uint256.Int
}

func (a *App) Vault(market uint8, user common.Address) (*VaultView, error) {
	var v VaultView
	err := a.DB.View(func(tx *state.Tx) error {
		var err error
		if v.Rate, err = a.Pool.Rate(tx, market); err != nil {
			return err
		}
		if v.Collateral, v.NormalizedDebt, err = a.Pool.Vault(tx, market, user); err != nil {
			return err
		}
		if v.Debt, err = a.Pool.Debt(tx, market, user); err != nil {
			return err
		}
		v.Gem, err = a.Pool.Gem(tx, market, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Balances returns owner's base and collateral token balances.
func (a *App) Balances(owner common.Address) (base, collateral *uint256.Int, err error) {
	err = a.DB.View(func(tx *state.Tx) error {
		if base, err = a.Base.BalanceOf(tx, owner); err != nil {
			return err
		}
		collateral, err = a.Collateral.BalanceOf(tx, owner)
		return err
	})
	return base, collateral, err
}
