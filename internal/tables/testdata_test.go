package tables

const sampleYAML = `
generated_at: 2026-01-05T10:00:00Z
countries:
  - code: de
    name: Germany
  - code: US
    name: United States
    states:
      - code: CA
        name: California
tax_rates:
  - country: DE
    rate: "19"
    name: MwSt
  - country: US
    state: CA
    rate: "7.25"
shipping_zones:
  - id: 1
    name: Germany
    countries: [DE]
    bands:
      - min: "5"
        max: "20"
        cost: "9.90"
        title: DHL Paket
      - min: "0"
        max: "5"
        cost: "5.90"
        title: DHL Päckchen
  - id: 2
    name: Europe
    countries: [DE, AT]
    bands:
      - min: "0"
        cost: "14.50"
        title: International
payment_methods:
  - id: stripe
    title: Card
    enabled: true
  - id: cod
    title: Cash on delivery
    enabled: false
`
