package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"spread-sentinel/internal/app"
)

var (
	simulateSymbol   string
	simulateWeex     float64
	simulateOther    float64
	simulateValidate bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-opportunity",
	Short: "用给定价格模拟一次套利检测",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateWeex <= 0 || simulateOther <= 0 {
			return errors.New("--weex 与 --other 必须大于 0")
		}

		return getApp().SimulateOpportunity(cmd.Context(), app.SimulateOptions{
			Symbol:     simulateSymbol,
			WeexPrice:  decimal.NewFromFloat(simulateWeex),
			OtherPrice: decimal.NewFromFloat(simulateOther),
			Validate:   simulateValidate,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "cmt_btcusdt", "WEEX 合约代码")
	simulateCmd.Flags().Float64Var(&simulateWeex, "weex", 0, "WEEX 价格")
	simulateCmd.Flags().Float64Var(&simulateOther, "other", 0, "对比交易所价格")
	simulateCmd.Flags().BoolVar(&simulateValidate, "validate", false, "创建后立即走一次 AI 校验")
}
