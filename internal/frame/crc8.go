package frame

// CRC-8 (多项式 0x07, 初始值 0)，覆盖 CRC 字节之前的全部帧头字节
var crc8Table [256]byte

func init() {
	for i := 0; i < 256; i++ {
		c := byte(i)
		for bit := 0; bit < 8; bit++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x07
			} else {
				c <<= 1
			}
		}
		crc8Table[i] = c
	}
}

func crc8(data []byte) byte {
	var c byte
	for _, b := range data {
		c = crc8Table[c^b]
	}
	return c
}
