package main

// Rarity is the catalog tier of a collectible. Tiers are ordinal: 1 is the
// most common, 16 the rarest.
type Rarity int

const (
	RarityCommon      Rarity = 1
	RarityRare        Rarity = 2
	RarityNormal      Rarity = 3
	RarityLegendary   Rarity = 4
	RaritySummer      Rarity = 5
	RarityWinter      Rarity = 6
	RarityValentine   Rarity = 7
	RarityManga       Rarity = 8
	RarityUnique      Rarity = 9
	RarityNeon        Rarity = 10
	RarityCelestial   Rarity = 11
	RarityMythical    Rarity = 12
	RaritySpecial     Rarity = 13
	RarityMasterpiece Rarity = 14
	RarityLimited     Rarity = 15
	RarityAMV         Rarity = 16
)

const (
	RarityMin = RarityCommon
	RarityMax = RarityAMV
)

var rarityNames = map[Rarity]string{
	RarityCommon:      "Common",
	RarityRare:        "Rare",
	RarityNormal:      "Normal",
	RarityLegendary:   "Legendary",
	RaritySummer:      "Summer",
	RarityWinter:      "Winter",
	RarityValentine:   "Valentine",
	RarityManga:       "Manga",
	RarityUnique:      "Unique",
	RarityNeon:        "Neon",
	RarityCelestial:   "Celestial",
	RarityMythical:    "Mythical",
	RaritySpecial:     "Special",
	RarityMasterpiece: "Masterpiece",
	RarityLimited:     "Limited",
	RarityAMV:         "AMV",
}

// rarityPrices derives the catalog price from the tier.
var rarityPrices = map[Rarity]int64{
	RarityCommon:      20000,
	RarityRare:        20000,
	RarityNormal:      40000,
	RarityLegendary:   50000,
	RaritySummer:      400000,
	RarityWinter:      600000,
	RarityValentine:   300000,
	RarityManga:       20000,
	RarityUnique:      400000,
	RarityNeon:        700000,
	RarityCelestial:   800000,
	RarityMythical:    900000,
	RaritySpecial:     1000000,
	RarityMasterpiece: 1200000,
	RarityLimited:     1300000,
	RarityAMV:         1400000,
}

const fallbackPrice int64 = 5000

func (r Rarity) Valid() bool {
	return r >= RarityMin && r <= RarityMax
}

func (r Rarity) Name() string {
	if name, ok := rarityNames[r]; ok {
		return name
	}
	return "Unknown"
}

func (r Rarity) Price() int64 {
	if price, ok := rarityPrices[r]; ok {
		return price
	}
	return fallbackPrice
}
