package main

type config struct {
	BaseURL  string `mapstructure:"base_url"`
	Token    string `mapstructure:"token"`
	Service  string `mapstructure:"service"`
	Interval string `mapstructure:"interval"`
}
