package catalog

// DefaultSources is the built-in game catalog used when the config has no sources.
func DefaultSources() []Source {
	return []Source{
		{Key: "cs2", Family: NumericFeed, Locator: "730", Name: "Counter-Strike 2"},
		{Key: "dota", Family: NumericFeed, Locator: "570", Name: "Dota 2"},
		{Key: "pubg", Family: NumericFeed, Locator: "578080", Name: "PUBG"},
		{Key: "fortnite", Family: SyndicationFeed, Locator: "https://www.fortnite.com/news/feed", Name: "Fortnite"},
		{Key: "lol", Family: SyndicationFeed, Locator: "https://www.leagueoflegends.com/en-us/news/game-updates/feed/", Name: "League of Legends"},
		{Key: "valorant", Family: SyndicationFeed, Locator: "https://playvalorant.com/en-us/news/game-updates/feed/", Name: "Valorant"},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultSources())
	if err != nil {
		panic("catalog: invalid default sources: " + err.Error())
	}
	return c
}
