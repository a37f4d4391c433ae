// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/cptartur/sequencer/params"
)

// loadContextConfig starts from the production defaults and overlays the
// given config file, if any. Large integer options are decimal strings so
// they survive every config format without float truncation.
func loadContextConfig(path string) (params.ContextConfig, error) {
	cfg := params.DefaultContextConfig()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return params.ContextConfig{}, err
		}
		if err := overlay(v, &cfg); err != nil {
			return params.ContextConfig{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return params.ContextConfig{}, err
	}
	return cfg, nil
}

func overlay(v *viper.Viper, cfg *params.ContextConfig) error {
	if v.IsSet("proposal_buffer_size") {
		cfg.ProposalBufferSize = v.GetInt("proposal_buffer_size")
	}
	if v.IsSet("num_validators") {
		cfg.NumValidators = v.GetUint64("num_validators")
	}
	if v.IsSet("chain_id") {
		cfg.ChainID = v.GetString("chain_id")
	}
	if v.IsSet("l1_data_gas_price_multiplier_ppt") {
		cfg.L1DataGasPriceMultiplierPPT = v.GetUint64("l1_data_gas_price_multiplier_ppt")
	}
	if v.IsSet("eth_to_fri_rate_margin_ppm") {
		cfg.EthToFriRateMarginPPM = v.GetUint64("eth_to_fri_rate_margin_ppm")
	}
	if v.IsSet("build_proposal_margin_ms") {
		cfg.BuildProposalMargin = time.Duration(v.GetUint64("build_proposal_margin_ms")) * time.Millisecond
	}
	if v.IsSet("validate_proposal_margin_ms") {
		cfg.ValidateProposalMargin = time.Duration(v.GetUint64("validate_proposal_margin_ms")) * time.Millisecond
	}
	if v.IsSet("proposal_store_size") {
		cfg.ProposalStoreSize = v.GetInt("proposal_store_size")
	}
	for key, dst := range map[string]**uint256.Int{
		"min_l1_gas_price_wei":      &cfg.MinL1GasPriceWei,
		"max_l1_gas_price_wei":      &cfg.MaxL1GasPriceWei,
		"min_l1_data_gas_price_wei": &cfg.MinL1DataGasPriceWei,
		"max_l1_data_gas_price_wei": &cfg.MaxL1DataGasPriceWei,
		"default_eth_to_fri_rate":   &cfg.DefaultEthToFriRate,
	} {
		if !v.IsSet(key) {
			continue
		}
		parsed, err := uint256.FromDecimal(v.GetString(key))
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		*dst = parsed
	}
	return nil
}
